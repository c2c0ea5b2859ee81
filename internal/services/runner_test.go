package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRunner answers commands with canned output keyed by command name.
type mockRunner struct {
	mu      sync.Mutex
	outputs map[string][]byte
	errors  map[string]error
	// onRun is invoked before the canned output is returned.
	onRun func(name string, args []string) error
	calls []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, name+" "+strings.Join(args, " "))
	m.mu.Unlock()

	if m.onRun != nil {
		if err := m.onRun(name, args); err != nil {
			return nil, err
		}
	}
	if err, ok := m.errors[name]; ok {
		return nil, err
	}
	return m.outputs[name], nil
}

// popplerRunner simulates pdftoppm writing n PNG pages.
func popplerRunner(n int) *mockRunner {
	return &mockRunner{
		onRun: func(name string, args []string) error {
			switch name {
			case "pdftoppm":
				prefix := args[len(args)-1]
				for i := 1; i <= n; i++ {
					file := fmt.Sprintf("%s-%0*d.png", prefix, len(fmt.Sprint(n)), i)
					if err := os.WriteFile(file, []byte(fmt.Sprintf("png-%d", i)), 0o600); err != nil {
						return err
					}
				}
			}
			return nil
		},
		outputs: map[string][]byte{},
	}
}

func stubLookPath(t *testing.T, missing ...string) {
	t.Helper()
	original := lookPath
	t.Cleanup(func() { lookPath = original })
	lookPath = func(file string) (string, error) {
		for _, m := range missing {
			if m == file {
				return "", errors.New("executable file not found in $PATH")
			}
		}
		return filepath.Join("/usr/bin", file), nil
	}
}

func TestVerifyPoppler(t *testing.T) {
	t.Run("tools present", func(t *testing.T) {
		stubLookPath(t)
		runner := &mockRunner{}

		require.NoError(t, VerifyPoppler(context.Background(), runner))
		assert.Equal(t, []string{"pdftoppm -v"}, runner.calls)
	})

	t.Run("pdftotext missing", func(t *testing.T) {
		stubLookPath(t, "pdftotext")

		err := VerifyPoppler(context.Background(), &mockRunner{})
		assert.ErrorIs(t, err, ErrPopplerNotFound)
		assert.Contains(t, err.Error(), "pdftotext")
	})

	t.Run("pdftoppm not runnable", func(t *testing.T) {
		stubLookPath(t)
		runner := &mockRunner{errors: map[string]error{"pdftoppm": errors.New("exit status 127")}}

		err := VerifyPoppler(context.Background(), runner)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrPopplerNotFound)
		assert.Contains(t, err.Error(), "not runnable")
	})
}

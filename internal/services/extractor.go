package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pagesearchflow/internal/gcp"
	"github.com/Lllllllleong/pagesearchflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const pageImagePrefix = "page"

// Transcriber reads the text off a rasterised page.
type Transcriber interface {
	TranscribePage(ctx context.Context, image []byte) (string, error)
}

// ExtractorOptions configures a PDFExtractor. Storage and Transcriber are optional.
type ExtractorOptions struct {
	HTTPClient  *http.Client
	Storage     *storage.Client
	Runner      CommandRunner
	Transcriber Transcriber
	DPI         int
	Logger      *slog.Logger
}

// PDFExtractor turns a PDF location into ordered page images and page texts.
type PDFExtractor struct {
	httpClient    *http.Client
	storageClient *storage.Client
	runner        CommandRunner
	transcriber   Transcriber
	dpi           int
	logger        *slog.Logger
	// prepare validates the source PDF, writes a clean copy and returns its page count.
	prepare func(source, optimized string) (int, error)
}

func NewPDFExtractor(opts ExtractorOptions) *PDFExtractor {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.DPI <= 0 {
		opts.DPI = 144
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PDFExtractor{
		httpClient:    opts.HTTPClient,
		storageClient: opts.Storage,
		runner:        opts.Runner,
		transcriber:   opts.Transcriber,
		dpi:           opts.DPI,
		logger:        opts.Logger,
		prepare:       preparePDF,
	}
}

// Extract downloads the PDF at url and returns one PNG and one text per page, in page order.
func (e *PDFExtractor) Extract(ctx context.Context, url string) ([][]byte, []string, error) {
	tempDir, err := os.MkdirTemp("", "pdf-extract-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := e.fetch(ctx, url, sourcePath); err != nil {
		return nil, nil, err
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	pageCount, err := e.prepare(sourcePath, optimizedPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	if pageCount == 0 {
		return nil, nil, fmt.Errorf("PDF at %s has no pages", url)
	}

	images, err := e.rasterize(ctx, optimizedPath, tempDir, pageCount)
	if err != nil {
		return nil, nil, err
	}

	texts, err := e.pageTexts(ctx, optimizedPath, images)
	if err != nil {
		return nil, nil, err
	}
	return images, texts, nil
}

// fetch copies the PDF at url to destPath. It understands http(s)://, gs:// and local paths.
func (e *PDFExtractor) fetch(ctx context.Context, url, destPath string) error {
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()

	switch {
	case strings.HasPrefix(url, "gs://"):
		if e.storageClient == nil {
			return fmt.Errorf("cannot fetch %s: no storage client configured", url)
		}
		bucket, object, err := gcp.ParseGCSURI(url)
		if err != nil {
			return err
		}
		return gcp.StreamObject(ctx, e.storageClient, bucket, object, localFile)

	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("failed to build request for %s: %w", url, err)
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("failed to download %s: unexpected status %s", url, resp.Status)
		}
		if _, err := io.Copy(localFile, resp.Body); err != nil {
			return fmt.Errorf("failed to copy %s to local file: %w", url, err)
		}
		return nil

	default:
		src, err := os.Open(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", url, err)
		}
		defer src.Close()
		if _, err := io.Copy(localFile, src); err != nil {
			return fmt.Errorf("failed to copy %s to local file: %w", url, err)
		}
		return nil
	}
}

func (e *PDFExtractor) rasterize(ctx context.Context, pdfPath, outDir string, pageCount int) ([][]byte, error) {
	prefix := filepath.Join(outDir, pageImagePrefix)
	if _, err := e.runner.Run(ctx, "pdftoppm", "-r", strconv.Itoa(e.dpi), "-png", pdfPath, prefix); err != nil {
		return nil, fmt.Errorf("failed to rasterize PDF: %w", err)
	}
	images, err := collectPageImages(outDir, pageImagePrefix)
	if err != nil {
		return nil, err
	}
	if len(images) != pageCount {
		return nil, fmt.Errorf("%w: rasterized %d of %d pages", models.ErrPageCountMismatch, len(images), pageCount)
	}
	return images, nil
}

func (e *PDFExtractor) pageTexts(ctx context.Context, pdfPath string, images [][]byte) ([]string, error) {
	texts := make([]string, len(images))
	for i := range images {
		pageNumber := strconv.Itoa(i + 1)
		out, err := e.runner.Run(ctx, "pdftotext", "-f", pageNumber, "-l", pageNumber, "-layout", pdfPath, "-")
		if err != nil {
			return nil, fmt.Errorf("failed to extract text of page %d: %w", i+1, err)
		}
		text := strings.TrimSpace(string(out))

		if text == "" && e.transcriber != nil {
			transcribed, err := e.transcriber.TranscribePage(ctx, images[i])
			if err != nil {
				e.logger.Warn("Page transcription failed. Keeping empty text.", "page", i+1, "error", err)
			} else {
				text = transcribed
			}
		}
		texts[i] = text
	}
	return texts, nil
}

// pageImageRe matches pdftoppm output names; the page number is zero-padded
// to the width of the last page number.
var pageImageRe = regexp.MustCompile(`^(.+)-(\d+)\.png$`)

// collectPageImages reads <prefix>-N.png files from dir ordered by page number.
func collectPageImages(dir, prefix string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list rasterized pages: %w", err)
	}

	type page struct {
		number int
		path   string
	}
	var pages []page
	for _, entry := range entries {
		m := pageImageRe.FindStringSubmatch(entry.Name())
		if entry.IsDir() || m == nil || m[1] != prefix {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		pages = append(pages, page{number: n, path: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].number < pages[j].number })

	images := make([][]byte, 0, len(pages))
	for _, p := range pages {
		data, err := os.ReadFile(p.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read page image %s: %w", p.path, err)
		}
		images = append(images, data)
	}
	return images, nil
}

func preparePDF(inPath, outPath string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(inPath, outPath, cfg); err != nil {
		return 0, err
	}
	pageCount, err := api.PageCountFile(outPath)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return pageCount, nil
}

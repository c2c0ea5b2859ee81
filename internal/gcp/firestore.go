package gcp

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	firestoreadmin "google.golang.org/api/firestore/v1"
	"google.golang.org/api/option"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services. An empty database selects "(default)".
func NewFirestoreClient(ctx context.Context, projectID, database string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// VectorIndexSpec describes a single-field vector index over a collection group.
type VectorIndexSpec struct {
	ProjectID       string
	Database        string
	CollectionGroup string
	Field           string
	Dimension       int
}

// Parent returns the admin API resource name the index is created under.
func (s VectorIndexSpec) Parent() string {
	database := s.Database
	if database == "" {
		database = "(default)"
	}
	return fmt.Sprintf("projects/%s/databases/%s/collectionGroups/%s", s.ProjectID, database, s.CollectionGroup)
}

// EnsureVectorIndex asks the Firestore Admin API to build a flat vector index
// for spec. An index that already exists counts as success. The build itself
// is a long-running operation and is not waited on.
func EnsureVectorIndex(ctx context.Context, spec VectorIndexSpec, opts ...option.ClientOption) error {
	if spec.ProjectID == "" || spec.CollectionGroup == "" || spec.Field == "" || spec.Dimension <= 0 {
		return fmt.Errorf("EnsureVectorIndex: incomplete index spec %+v", spec)
	}

	svc, err := firestoreadmin.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Firestore admin service: %w", err)
	}

	index := &firestoreadmin.GoogleFirestoreAdminV1Index{
		QueryScope: "COLLECTION_GROUP",
		Fields: []*firestoreadmin.GoogleFirestoreAdminV1IndexField{
			{
				FieldPath: spec.Field,
				VectorConfig: &firestoreadmin.GoogleFirestoreAdminV1VectorConfig{
					Dimension: int64(spec.Dimension),
					Flat:      &firestoreadmin.GoogleFirestoreAdminV1FlatIndex{},
				},
			},
		},
	}

	op, err := svc.Projects.Databases.CollectionGroups.Indexes.Create(spec.Parent(), index).Context(ctx).Do()
	if err != nil {
		if IsAlreadyExists(err) {
			slog.Info("Vector index already exists.", "collectionGroup", spec.CollectionGroup, "field", spec.Field)
			return nil
		}
		return fmt.Errorf("failed to create vector index on %s.%s: %w", spec.CollectionGroup, spec.Field, err)
	}
	slog.Info("Vector index creation started.", "operation", op.Name, "dimension", spec.Dimension)
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	terrors "totari/internal/errors"
	"totari/log"
)

// Firestore is the shared cloud backend the mobile app also writes to.
type Firestore struct {
	client *firestore.Client
}

// OpenFirestore connects to projectID. credentialsFile may be empty, in
// which case application default credentials are used.
func OpenFirestore(ctx context.Context, projectID, credentialsFile string) (*Firestore, error) {
	if projectID == "" {
		return nil, terrors.NewBackendUnavailable("firestore")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

func toFirestoreValue(v any) any {
	switch t := v.(type) {
	case serverTimestamp:
		return firestore.ServerTimestamp
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = toFirestoreValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = toFirestoreValue(val)
		}
		return out
	}
	return v
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (f *Firestore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := f.client.Collection(collection).Add(ctx, toFirestoreValue(data))
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (f *Firestore) Get(ctx context.Context, collection, id string) (Doc, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return Doc{}, terrors.NewNotFound(collection, id)
		}
		return Doc{}, err
	}
	return Doc{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (f *Firestore) buildQuery(collection string, filters []Filter) firestore.Query {
	q := f.client.Collection(collection).Query
	for _, flt := range filters {
		q = q.Where(flt.Field, "==", flt.Value)
	}
	return q
}

func snapsToDocs(snaps []*firestore.DocumentSnapshot) []Doc {
	docs := make([]Doc, 0, len(snaps))
	for _, s := range snaps {
		if !s.Exists() {
			continue
		}
		docs = append(docs, Doc{ID: s.Ref.ID, Data: s.Data()})
	}
	return docs
}

func (f *Firestore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	snaps, err := f.buildQuery(collection, filters).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return snapsToDocs(snaps), nil
}

func (f *Firestore) Update(ctx context.Context, collection, id string, updates []FieldUpdate) error {
	fu := make([]firestore.Update, len(updates))
	for i, u := range updates {
		fu[i] = firestore.Update{Path: u.Path, Value: toFirestoreValue(u.Value)}
	}
	_, err := f.client.Collection(collection).Doc(id).Update(ctx, fu)
	if err != nil && notFound(err) {
		return terrors.NewNotFound(collection, id)
	}
	return err
}

func (f *Firestore) Delete(ctx context.Context, collection, id string) error {
	_, err := f.client.Collection(collection).Doc(id).Delete(ctx)
	if err != nil && notFound(err) {
		return nil
	}
	return err
}

func (f *Firestore) Watch(ctx context.Context, collection string, filters []Filter, onChange func([]Doc)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	it := f.buildQuery(collection, filters).Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, iterator.Done) && status.Code(err) != codes.Canceled {
					log.StoreError("watch", collection, err)
				}
				return
			}
			snaps, err := snap.Documents.GetAll()
			if err != nil {
				log.StoreError("watch", collection, err)
				continue
			}
			onChange(snapsToDocs(snaps))
		}
	}()

	return cancel, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

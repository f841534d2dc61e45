// Package store persists case records in a Firestore collection keyed by case number.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/caselookupflow/internal/models"
)

// FirestoreStore reads and writes case records. Document IDs are case numbers.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore returns a store over the named collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) doc(caseNumber string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(caseNumber)
}

// ReadMany returns the existing records among caseNumbers. Absent case numbers
// are simply missing from the result.
func (s *FirestoreStore) ReadMany(ctx context.Context, caseNumbers []string) (map[string]*models.CaseRecord, error) {
	out := make(map[string]*models.CaseRecord, len(caseNumbers))
	if len(caseNumbers) == 0 {
		return out, nil
	}

	refs := make([]*firestore.DocumentRef, 0, len(caseNumbers))
	for _, cn := range caseNumbers {
		refs = append(refs, s.doc(cn))
	}
	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-read %d case records: %w", len(refs), err)
	}
	for _, snap := range snaps {
		rec, err := decode(snap)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out[rec.CaseNumber] = rec
		}
	}
	return out, nil
}

// ReadOne returns the record for caseNumber, or nil if there is none.
func (s *FirestoreStore) ReadOne(ctx context.Context, caseNumber string) (*models.CaseRecord, error) {
	snap, err := s.doc(caseNumber).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return nil, fmt.Errorf("failed to read case record %s: %w", caseNumber, err)
	}
	return decode(snap)
}

// Upsert merges u into the record for caseNumber, creating it if needed.
func (s *FirestoreStore) Upsert(ctx context.Context, caseNumber string, u models.CaseUpdate) error {
	if _, err := s.doc(caseNumber).Set(ctx, updateFields(caseNumber, u), firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to upsert case record %s: %w", caseNumber, err)
	}
	return nil
}

// UpsertIf merges u only if the stored record still satisfies expect. It
// returns models.ErrPreconditionFailed when another writer got there first.
func (s *FirestoreStore) UpsertIf(ctx context.Context, caseNumber string, expect models.Precondition, u models.CaseUpdate) error {
	ref := s.doc(caseNumber)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		current, err := decode(snap)
		if err != nil {
			return err
		}
		if !expect.Matches(current) {
			return models.ErrPreconditionFailed
		}
		return tx.Set(ref, updateFields(caseNumber, u), firestore.MergeAll)
	})
	if errors.Is(err, models.ErrPreconditionFailed) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed conditional upsert of case record %s: %w", caseNumber, err)
	}
	return nil
}

func decode(snap *firestore.DocumentSnapshot) (*models.CaseRecord, error) {
	if snap == nil || !snap.Exists() {
		return nil, nil
	}
	var rec models.CaseRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode case record %s: %w", snap.Ref.ID, err)
	}
	if rec.CaseNumber == "" {
		rec.CaseNumber = snap.Ref.ID
	}
	if !rec.Status.Valid() {
		slog.Warn("Case record has an unknown status; it will be searched again.", "caseNumber", rec.CaseNumber, "status", string(rec.Status))
	}
	return &rec, nil
}

// updateFields builds the merge payload. caseId is never cleared once set.
func updateFields(caseNumber string, u models.CaseUpdate) map[string]interface{} {
	fields := map[string]interface{}{
		"caseNumber": caseNumber,
	}
	if u.Status != "" {
		fields["status"] = string(u.Status)
		if u.Status == models.StatusFailed {
			fields["statusMessage"] = u.StatusMessage
		} else {
			fields["statusMessage"] = firestore.Delete
		}
	}
	if u.CaseID != "" {
		fields["caseId"] = u.CaseID
	}
	if !u.LastUpdated.IsZero() {
		fields["lastUpdated"] = u.LastUpdated
	}
	return fields
}

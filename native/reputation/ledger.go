package reputation

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

var errNilStorage = errors.New("reputation: storage not configured")

// ErrInvalidScore rejects scores outside the accepted [1,5] band.
var ErrInvalidScore = errors.New("reputation: score out of range")

const ratingKeyPrefix = "reputation/ratings/"

// storage abstracts the key-value persistence used by the ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger accumulates append-only rating scores per subject address. It does
// not decide who may rate whom; the marketplace engine gates eligibility and
// hands the ledger already-authorized scores. Appends are serialized by a
// ledger-level mutex: the same subject can be rated from settlements of
// different listings at once, and each of those holds only its own listing
// lock.
type Ledger struct {
	mu      sync.Mutex
	storage storage
}

// NewLedger constructs a rating ledger over the provided storage.
func NewLedger(storage storage) *Ledger {
	return &Ledger{storage: storage}
}

func ratingKey(subject [20]byte) []byte {
	return []byte(ratingKeyPrefix + hex.EncodeToString(subject[:]))
}

// Append records a score against the subject. Scores are stored in arrival
// order and never removed.
func (l *Ledger) Append(subject [20]byte, score uint8) error {
	if l == nil || l.storage == nil {
		return errNilStorage
	}
	if score < 1 || score > 5 {
		return ErrInvalidScore
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ratingKey(subject)
	var scores []uint8
	if _, err := l.storage.KVGet(key, &scores); err != nil {
		return fmt.Errorf("reputation: load ratings: %w", err)
	}
	scores = append(scores, score)
	if err := l.storage.KVPut(key, scores); err != nil {
		return fmt.Errorf("reputation: store ratings: %w", err)
	}
	return nil
}

// Ratings returns every score recorded for the subject in arrival order. A
// subject with no history yields an empty slice, not an error.
func (l *Ledger) Ratings(subject [20]byte) ([]uint8, error) {
	if l == nil || l.storage == nil {
		return nil, errNilStorage
	}
	var scores []uint8
	if _, err := l.storage.KVGet(ratingKey(subject), &scores); err != nil {
		return nil, fmt.Errorf("reputation: load ratings: %w", err)
	}
	if scores == nil {
		scores = []uint8{}
	}
	return scores, nil
}

// Average returns the arithmetic mean of a subject's scores scaled by 100
// (so 450 means 4.5) plus the sample count. Subjects with no ratings report
// zero for both.
func (l *Ledger) Average(subject [20]byte) (scaled int64, count int, err error) {
	scores, err := l.Ratings(subject)
	if err != nil {
		return 0, 0, err
	}
	if len(scores) == 0 {
		return 0, 0, nil
	}
	var sum int64
	for _, s := range scores {
		sum += int64(s)
	}
	return sum * 100 / int64(len(scores)), len(scores), nil
}

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	StageValidate  = "validate"
	StageMint      = "mint"
	StageMintNotes = "mint_notes"
)

// SubmitQuestRequest is the payload that opens a new job. The job ID is
// generated by the submitting client and is the sole correlation key
// across every stage row the pipeline writes.
type SubmitQuestRequest struct {
	JobID       string `json:"job_id"`
	CastHash    string `json:"cast_hash"`
	FID         int64  `json:"fid"`
	Text        string `json:"text,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Label       string `json:"label,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// Validation is one row in the insert-only validations table. Fail-closed:
// a validate stage that errors still writes a row with IsValid=false.
type Validation struct {
	JobID     string
	CastHash  string
	FID       int64
	Text      string
	ImageURL  string
	IsValid   bool
	Address   string
	Username  string
	CreatedAt time.Time
}

// Attestation is the terminal row for the mint stage. Tx carries the
// attestation reference on success, Message the failure reason otherwise.
type Attestation struct {
	JobID     string
	CastHash  string
	IsValid   bool
	Tx        string
	TxID      string
	Message   string
	Owner     string
	CreatedAt time.Time
}

// Note is the review/annotation variant of Attestation.
type Note struct {
	JobID     string
	FID       int64
	CastHash  string
	Tx        string
	TxID      string
	Message   string
	CreatedAt time.Time
}

// Transaction records a relay status callback keyed by the relay's
// transaction ID.
type Transaction struct {
	TxID      string
	Hash      string
	Status    string
	CreatedAt time.Time
}

func (r SubmitQuestRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return errors.New("job_id is required")
	}
	if strings.TrimSpace(r.CastHash) == "" {
		return errors.New("cast_hash is required")
	}
	if r.FID <= 0 {
		return fmt.Errorf("fid must be positive, got %d", r.FID)
	}
	if strings.TrimSpace(r.Text) == "" && strings.TrimSpace(r.ImageURL) == "" {
		return errors.New("quest needs text or an image")
	}
	return nil
}

package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Submission is a single unit of candidate content produced by a submitter.
// Immutable once enqueued; owned by the queue until dequeued, then by the
// validator until judged.
type Submission struct {
	SubmissionID string    `yaml:"submission_id"`
	SubmitterID  int       `yaml:"submitter_id"`
	Content      string    `yaml:"content"`
	CreatedAt    time.Time `yaml:"created_at"`
}

// Decision is the validator's verdict on a submission.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// ValidationResult is produced by the validator per submission and never
// mutated after creation.
type ValidationResult struct {
	Decision  Decision `yaml:"decision"`
	Reasoning string   `yaml:"reasoning"`
	Summary   string   `yaml:"summary"`
}

// RemovalProposal references a stored submission the validator proposes
// to remove during a cleanup review.
type RemovalProposal struct {
	SubmissionNumber int
	Reasoning        string
}

// GenerateSubmissionID returns an id of the form sub<N>_<unix>_<hex>.
func GenerateSubmissionID(submitterID int) (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return fmt.Sprintf("sub%d_%010d_%s", submitterID, time.Now().Unix(), hex.EncodeToString(randomBytes)), nil
}

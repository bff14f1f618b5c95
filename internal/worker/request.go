package worker

import (
	"encoding/json"
	"strconv"

	"github.com/you-humble/loggenie/internal/domain"
)

// Request describes one decryption run. Args renders it as the flag list the
// decryption script expects.
type Request struct {
	Source domain.Source

	InputPath string

	ElasticsearchURL string
	Index            string
	Size             int
	Username         string
	Password         string
	APIKey           string
	Query            json.RawMessage

	Key        string
	Algorithm  domain.Algorithm
	Field      string
	Format     domain.OutputFormat
	OutputPath string
}

func (r Request) Args() []string {
	if r.Source != domain.SourceElasticsearch {
		return []string{
			"--file", r.InputPath,
			"--key", r.Key,
			"--algorithm", string(r.Algorithm),
			"--field", r.Field,
			"--format", string(r.Format),
			"--output", r.OutputPath,
		}
	}

	args := []string{
		"--elasticsearch-url", r.ElasticsearchURL,
		"--index", r.Index,
		"--key", r.Key,
		"--algorithm", string(r.Algorithm),
		"--field", r.Field,
		"--size", strconv.Itoa(r.Size),
		"--format", string(r.Format),
		"--output", r.OutputPath,
	}
	if r.Username != "" {
		args = append(args, "--username", r.Username)
	}
	if r.Password != "" {
		args = append(args, "--password", r.Password)
	}
	if r.APIKey != "" {
		args = append(args, "--api-key", r.APIKey)
	}
	if len(r.Query) > 0 {
		args = append(args, "--query", string(r.Query))
	}

	return args
}

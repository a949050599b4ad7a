package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// ExternalHandlerConfig is the serializable configuration for an external
// handler, loaded from the daemon config file.
type ExternalHandlerConfig struct {
	ID          string   `json:"id" yaml:"id"`
	Command     string   `json:"command" yaml:"command"`                           // shell command to run
	Categories  []string `json:"categories,omitempty" yaml:"categories,omitempty"` // empty = all
	MinPriority string   `json:"min_priority,omitempty" yaml:"min_priority,omitempty"`
	Shell       string   `json:"shell,omitempty" yaml:"shell,omitempty"` // default "sh"
}

// ExternalHandler runs a shell command for each matching event.
//
// Protocol:
//   - Event JSON is passed on stdin
//   - Exit 0 = success
//   - Exit != 0 = error (logged by the bus, chain continues)
//
// Stdout is ignored; external handlers are pure side effects.
type ExternalHandler struct {
	config      ExternalHandlerConfig
	categories  []Category
	minPriority Priority
}

// NewExternalHandler creates a handler from a persisted config. An invalid
// min_priority is an error; an empty one defaults to low.
func NewExternalHandler(cfg ExternalHandlerConfig) (*ExternalHandler, error) {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}

	var minPriority Priority
	if cfg.MinPriority != "" {
		if err := minPriority.UnmarshalText([]byte(cfg.MinPriority)); err != nil {
			return nil, fmt.Errorf("external handler %s: %w", cfg.ID, err)
		}
	}

	categories := make([]Category, len(cfg.Categories))
	for i, c := range cfg.Categories {
		categories[i] = Category(c)
	}

	return &ExternalHandler{
		config:      cfg,
		categories:  categories,
		minPriority: minPriority,
	}, nil
}

func (h *ExternalHandler) ID() string { return h.config.ID }

func (h *ExternalHandler) InterestedIn(e Event) bool {
	return matchesFilter(e, h.categories, h.minPriority)
}

// Config returns the serializable configuration for persistence.
func (h *ExternalHandler) Config() ExternalHandlerConfig { return h.config }

func (h *ExternalHandler) Handle(ctx context.Context, e Event) error {
	input, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("external handler %s: marshal event: %w", h.config.ID, err)
	}

	cmd := exec.CommandContext(ctx, h.config.Shell, "-c", h.config.Command)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("external handler %s: exit %d: %s",
				h.config.ID, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("external handler %s: exec: %w", h.config.ID, err)
	}
	return nil
}

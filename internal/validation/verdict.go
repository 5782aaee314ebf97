package validation

import (
	"fmt"
	"strings"
	"time"
)

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
)

// Issue codes.
const (
	CodeRequired          = "required"
	CodeFormat            = "format"
	CodeReferenceRequired = "reference_required"
	CodeDanglingReference = "dangling_reference"
	CodeInconclusive      = "inconclusive"
	CodeBusinessRule      = "business_rule"
	CodeAmbiguousFilter   = "ambiguous_filter"
	CodeTargetNotFound    = "target_not_found"
	CodeUnknownEntity     = "unknown_entity"
)

// Issue is one finding of a validation pass. Record is the index of the
// record in a batch, or -1 for findings about the operation as a whole.
type Issue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`
	Record  int    `json:"record"`
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Record >= 0 {
		fmt.Fprintf(&b, "record[%d] ", i.Record)
	}
	b.WriteString("[" + i.Code + "]")
	if i.Field != "" {
		b.WriteString(" " + i.Field + ":")
	}
	b.WriteString(" " + i.Message)
	if i.Detail != "" {
		b.WriteString(" (" + i.Detail + ")")
	}
	return b.String()
}

// Verdict is the outcome of one validation pass. Valid is true exactly when
// Errors is empty; warnings never change it.
type Verdict struct {
	EntityType string           `json:"entity_type"`
	Operation  Operation        `json:"operation"`
	Valid      bool             `json:"valid"`
	Errors     []Issue          `json:"errors"`
	Warnings   []Issue          `json:"warnings"`
	Preview    []map[string]any `json:"sanitized_preview,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// HasError reports whether an error with code mentions field (empty matches any field).
func (v Verdict) HasError(code, field string) bool {
	for _, e := range v.Errors {
		if e.Code == code && (field == "" || e.Field == field) {
			return true
		}
	}
	return false
}

type collector struct {
	errors   []Issue
	warnings []Issue
}

func (c *collector) fail(issue Issue) {
	c.errors = append(c.errors, issue)
}

func (c *collector) warn(issue Issue) {
	c.warnings = append(c.warnings, issue)
}

func (c *collector) add(issue Issue, blocking bool) {
	if blocking {
		c.fail(issue)
		return
	}
	c.warn(issue)
}

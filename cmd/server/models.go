package main

import (
	"time"

	"github.com/liamcoop/subledger/engine"
)

// API request and response models

// CreateRuleRequest represents the request body for creating a rule
type CreateRuleRequest struct {
	Name          string `json:"name"`
	SourceTable   string `json:"sourceTable"`
	Filter        string `json:"filter"`
	Formula       string `json:"formula"`
	LedgerAccount string `json:"ledgerAccount"`
	Active        bool   `json:"active"`
}

// UpdateRuleRequest represents the request body for updating a rule
type UpdateRuleRequest struct {
	Name          string `json:"name"`
	SourceTable   string `json:"sourceTable"`
	Filter        string `json:"filter"`
	Formula       string `json:"formula"`
	LedgerAccount string `json:"ledgerAccount"`
	Active        *bool  `json:"active,omitempty"`
}

// RuleResponse represents a rule in API responses
type RuleResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SourceTable   string    `json:"sourceTable"`
	Filter        string    `json:"filter"`
	Formula       string    `json:"formula"`
	LedgerAccount string    `json:"ledgerAccount"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func ruleResponse(r *engine.Rule) RuleResponse {
	return RuleResponse{
		ID:            r.ID,
		Name:          r.Name,
		SourceTable:   r.SourceTable,
		Filter:        r.Filter,
		Formula:       r.Formula,
		LedgerAccount: r.LedgerAccount,
		Active:        r.Active,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []RuleResponse `json:"rules"`
}

package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"storefront-chat/internal/core/domain"
	"storefront-chat/internal/core/ports"
)

//go:embed plans.yaml
var defaultPlans []byte

var _ ports.PlanResolver = (*PlanCatalog)(nil)

// PlanCatalog maps plan codes to tier limits
type PlanCatalog struct {
	plans       map[string]domain.Plan
	defaultCode string
}

type planFile struct {
	Default string        `yaml:"default"`
	Plans   []domain.Plan `yaml:"plans"`
}

// LoadPlans reads the tiers from path, or the embedded defaults when path is empty
func LoadPlans(path string) (*PlanCatalog, error) {
	data := defaultPlans
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read plans file: %w", err)
		}
		data = b
	}
	return ParsePlans(data)
}

// ParsePlans decodes a plans document
func ParsePlans(data []byte) (*PlanCatalog, error) {
	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("plans file defines no plans")
	}

	c := &PlanCatalog{plans: make(map[string]domain.Plan, len(f.Plans))}
	for _, p := range f.Plans {
		code := strings.ToLower(strings.TrimSpace(p.Code))
		if code == "" {
			return nil, fmt.Errorf("plan without code")
		}
		if p.ChatModel == "" {
			return nil, fmt.Errorf("plan %q: chat_model is required", code)
		}
		if p.VisionModel == "" {
			p.VisionModel = p.ChatModel
		}
		p.Code = code
		c.plans[code] = p
	}

	c.defaultCode = strings.ToLower(f.Default)
	if _, ok := c.plans[c.defaultCode]; !ok {
		c.defaultCode = strings.ToLower(f.Plans[0].Code)
	}
	return c, nil
}

// Resolve returns the plan for code; unknown codes get the default plan
func (c *PlanCatalog) Resolve(code string) domain.Plan {
	if p, ok := c.plans[strings.ToLower(strings.TrimSpace(code))]; ok {
		return p
	}
	return c.plans[c.defaultCode]
}

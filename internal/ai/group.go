package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var errNoneConfigured = errors.New("no ai backend configured")

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// NewGroupGenerator chains generators: each request goes to the first
// entry, falling through on failure.
func NewGroupGenerator(items []GeneratorEntry) IGenerator {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 && items[0].Generator != nil {
		return items[0].Generator
	}
	return &groupGenerator{items: items}
}

type groupGenerator struct {
	items []GeneratorEntry
}

func (g *groupGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	errs := make([]error, 0, len(g.items))
	for _, item := range g.items {
		if item.Generator == nil {
			continue
		}
		res, err := item.Generator.Generate(ctx, prompt)
		if err == nil {
			return res, nil
		}
		logutil.GetLogger(ctx).Warn("generator failed, trying next",
			zap.String("name", item.Name), zap.Error(err))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", errNoneConfigured
	}
	return "", errors.Join(errs...)
}

// NewGroupEmbedder chains embedders the same way. Entries must share a
// model family: the fallback exists for mirror endpoints of the same
// model, never for mixing embedding spaces.
func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 && items[0].Embedder != nil {
		return items[0].Embedder
	}
	return &groupEmbedder{items: items}
}

type groupEmbedder struct {
	items []EmbedderEntry
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	errs := make([]error, 0, len(g.items))
	for _, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		res, err := item.Embedder.Embed(ctx, text, taskType)
		if err == nil {
			return res, nil
		}
		logutil.GetLogger(ctx).Warn("embedder failed, trying next",
			zap.String("name", item.Name), zap.Error(err))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, errNoneConfigured
	}
	return nil, errors.Join(errs...)
}

func (g *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Name != "" {
			names = append(names, item.Name)
		}
	}
	return strings.Join(names, "|")
}

// Package similarity scores agent metadata against a fixed keyword model of
// memory-centric agents and feeds matches back into the cache as tags.
package similarity

import (
	"regexp"
)

// Category is one weighted keyword group of the model.
type Category struct {
	Name     string
	Tag      string
	Weight   float64
	Keywords []string
}

// Model is the fixed category model. Weights sum to 1.0.
var Model = []Category{
	{
		Name:   "core-concept",
		Tag:    "memory-core",
		Weight: 0.25,
		Keywords: []string{
			"memory", "memories", "remember", "recall", "long-term memory",
			"short-term memory", "episodic", "semantic memory", "context window", "knowledge base",
		},
	},
	{
		Name:   "self-referential-awareness",
		Tag:    "self-aware",
		Weight: 0.10,
		Keywords: []string{
			"self-aware", "introspection", "reflection", "self-model",
			"metacognition", "self-improving", "identity", "consciousness",
		},
	},
	{
		Name:   "durable-persistence",
		Tag:    "persistent-state",
		Weight: 0.15,
		Keywords: []string{
			"persistent", "persistence", "durable", "state", "stateful",
			"checkpoint", "snapshot", "long-lived", "continuity",
		},
	},
	{
		Name:   "external-storage",
		Tag:    "external-storage",
		Weight: 0.10,
		Keywords: []string{
			"ipfs", "arweave", "filecoin", "vector database", "vector store",
			"embeddings", "storage", "database", "rag", "retrieval",
		},
	},
	{
		Name:   "associative-consolidation",
		Tag:    "associative",
		Weight: 0.10,
		Keywords: []string{
			"knowledge graph", "graph", "association", "consolidation",
			"summarization", "compression", "indexing", "linking",
		},
	},
	{
		Name:   "networked-cooperation",
		Tag:    "cooperative",
		Weight: 0.10,
		Keywords: []string{
			"multi-agent", "swarm", "collaboration", "shared memory",
			"coordination", "a2a", "mcp", "protocol",
		},
	},
	{
		Name:   "verified-identity",
		Tag:    "verified-identity",
		Weight: 0.10,
		Keywords: []string{
			"erc-8004", "on-chain", "verifiable", "attestation",
			"reputation", "signature", "identity registry", "trustless",
		},
	},
	{
		Name:   "adaptive-capability",
		Tag:    "adaptive",
		Weight: 0.10,
		Keywords: []string{
			"learning", "adaptive", "fine-tuning", "personalization",
			"evolving", "feedback", "reinforcement",
		},
	},
}

type compiledKeyword struct {
	keyword string
	re      *regexp.Regexp
}

// patterns holds one word-bounded pattern per keyword, indexed like Model.
var patterns = compile(Model)

func compile(model []Category) [][]compiledKeyword {
	out := make([][]compiledKeyword, len(model))
	for i, c := range model {
		out[i] = make([]compiledKeyword, len(c.Keywords))
		for j, kw := range c.Keywords {
			out[i][j] = compiledKeyword{
				keyword: kw,
				re:      regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`),
			}
		}
	}
	return out
}

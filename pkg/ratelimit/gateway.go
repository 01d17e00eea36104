package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/factforge/factforge/pkg/llm"
)

// Gateway gates every LLM and rerank call behind hierarchical sliding-window
// buckets. Search-stage calls run on segregated plan buckets; all other agent
// stages share the global token/request buckets plus a lazily-created
// per-agent token bucket. Generator and evaluator calls share their own pair.
type Gateway struct {
	client llm.Client
	stages map[Stage]StageParams
	window time.Duration

	planReq   *Bucket
	planTok   *Bucket
	globalReq *Bucket
	globalTok *Bucket
	rerankReq *Bucket
	genReq    *Bucket
	genTok    *Bucket

	perAgentCap int
	mu          sync.Mutex
	agentTok    map[string]*Bucket
}

// NewGateway builds a gateway over the given client, limits, and stage table.
// A nil stage table uses DefaultStageParams.
func NewGateway(client llm.Client, limits Limits, stages map[Stage]StageParams) *Gateway {
	if stages == nil {
		stages = DefaultStageParams()
	}
	return &Gateway{
		client:      client,
		stages:      stages,
		window:      DefaultWindow,
		planReq:     NewBucket(limits.PlanRequests, DefaultWindow),
		planTok:     NewBucket(limits.PlanTokens, DefaultWindow),
		globalReq:   NewBucket(limits.GlobalRequests, DefaultWindow),
		globalTok:   NewBucket(limits.GlobalTokens, DefaultWindow),
		rerankReq:   NewBucket(limits.RerankRequests, DefaultWindow),
		genReq:      NewBucket(limits.GenRequests, DefaultWindow),
		genTok:      NewBucket(limits.GenTokens, DefaultWindow),
		perAgentCap: limits.PerAgentTokens,
		agentTok:    make(map[string]*Bucket),
	}
}

// StageParams returns the configuration for a stage.
func (g *Gateway) StageParams(stage Stage) StageParams {
	return g.stages[stage]
}

// agentBucket returns the per-agent token bucket, creating it on first use.
func (g *Gateway) agentBucket(agentID string) *Bucket {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.agentTok[agentID]
	if !ok {
		b = NewBucket(g.perAgentCap, g.window)
		g.agentTok[agentID] = b
	}
	return b
}

// GatedResponse throttles a stage call for one IR agent. prompt is the user
// turn, contextText mirrors the agent's conversation so far (for estimation
// parity with what the provider tokenizes), prevID chains the call to the
// agent's anchor response within the current round.
func (g *Gateway) GatedResponse(
	ctx context.Context,
	agentID string,
	stage Stage,
	prompt, instructions, contextText, prevID string,
) (*llm.Response, error) {
	params, ok := g.stages[stage]
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	promptTokens := EstimateTokens(instructions + contextText + "<|user|>\n" + prompt + "\n")
	reserve := promptTokens + params.MaxOutputTokens
	reserve += promptBuffer(reserve)

	if reserve > params.ReservationCap {
		return nil, &ReservationTooLargeError{Stage: stage, Reserved: reserve, Cap: params.ReservationCap}
	}

	req := llm.Request{
		Model:              params.Model,
		Input:              prompt,
		Instructions:       instructions,
		MaxOutputTokens:    params.MaxOutputTokens,
		Temperature:        params.Temperature,
		TopP:               params.TopP,
		PreviousResponseID: prevID,
	}

	if stage == StageSearch {
		// Search planning runs on its own buckets, segregated from the
		// generic agent traffic.
		tokID, err := g.planTok.Acquire(ctx, reserve)
		if err != nil {
			return nil, err
		}
		if _, err := g.planReq.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		resp, err := g.client.Respond(ctx, req)
		if err != nil {
			// Reservation stays until it ages out — the provider may have
			// burned the tokens even on error.
			return nil, err
		}
		g.planTok.CreditByID(tokID, reserve-resp.Usage.TotalTokens)
		return resp, nil
	}

	globalID, err := g.globalTok.Acquire(ctx, reserve)
	if err != nil {
		return nil, err
	}
	personal := g.agentBucket(agentID)
	personalID, err := personal.Acquire(ctx, reserve)
	if err != nil {
		return nil, err
	}
	if _, err := g.globalReq.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	resp, err := g.client.Respond(ctx, req)
	if err != nil {
		return nil, err
	}
	surplus := reserve - resp.Usage.TotalTokens
	g.globalTok.CreditByID(globalID, surplus)
	personal.CreditByID(personalID, surplus)
	return resp, nil
}

// GatedGenerate throttles a report generator or evaluator call on the shared
// gen buckets. On provider failure it retries exactly once before giving up.
func (g *Gateway) GatedGenerate(ctx context.Context, model, prompt string, temperature float64) (*llm.Response, error) {
	promptTokens := EstimateTokens(prompt)
	reserve := promptTokens + promptBuffer(promptTokens) + GenMaxOutputTokens
	if reserve > g.genTok.Capacity() {
		return nil, &ReservationTooLargeError{Stage: "GEN", Reserved: reserve, Cap: g.genTok.Capacity()}
	}

	if _, err := g.genReq.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	tokID, err := g.genTok.Acquire(ctx, reserve)
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		Model:           model,
		Input:           prompt,
		MaxOutputTokens: GenMaxOutputTokens,
		Temperature:     temperature,
	}

	resp, err := g.client.Respond(ctx, req)
	if err != nil {
		slog.Warn("Generator call failed, retrying once", "error", err)
		resp, err = g.client.Respond(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("generator call failed after retry: %w", err)
		}
	}
	g.genTok.CreditByID(tokID, reserve-resp.Usage.TotalTokens)
	return resp, nil
}

// GatedRerank runs fn under the rerank request bucket.
func (g *Gateway) GatedRerank(ctx context.Context, fn func(context.Context) error) error {
	if _, err := g.rerankReq.Acquire(ctx, 1); err != nil {
		return err
	}
	return fn(ctx)
}

// Buckets exposes the static buckets by name for monitoring.
func (g *Gateway) Buckets() map[string]*Bucket {
	return map[string]*Bucket{
		"Plan_req":   g.planReq,
		"Plan_tok":   g.planTok,
		"Global_req": g.globalReq,
		"Global_tok": g.globalTok,
		"Rerank":     g.rerankReq,
		"Gen_req":    g.genReq,
		"Gen_tok":    g.genTok,
	}
}

// AgentBuckets returns a snapshot of the lazily-created per-agent buckets.
func (g *Gateway) AgentBuckets() map[string]*Bucket {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]*Bucket, len(g.agentTok))
	for id, b := range g.agentTok {
		out[id] = b
	}
	return out
}

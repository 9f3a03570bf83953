// Package chat answers operator questions about a case using only the
// stored, redacted investigation record. It never calls evidence providers;
// what was captured at run time is all the model sees.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeready-toolchain/tarka/pkg/llm"
	"github.com/codeready-toolchain/tarka/pkg/models"
	"github.com/codeready-toolchain/tarka/pkg/store"
)

// Store is the index surface the chat service uses.
type Store interface {
	GetCase(ctx context.Context, caseID string) (*store.CaseRecord, error)
	GetRun(ctx context.Context, runID string) (*store.RunRecord, error)
	CreateThread(ctx context.Context, caseID, title string) (*store.ChatThread, error)
	GetThread(ctx context.Context, threadID string) (*store.ChatThread, error)
	ListThreads(ctx context.Context, caseID string) ([]store.ChatThread, error)
	AddMessage(ctx context.Context, threadID, role, content string) (*store.ChatMessage, error)
	ListMessages(ctx context.Context, threadID string) ([]store.ChatMessage, error)
}

// ArtifactReader fetches stored report twins.
type ArtifactReader interface {
	ReadReport(ctx context.Context, key string) ([]byte, error)
}

// Answerer produces an answer from the stored investigation plus the thread
// history. *llm.Enricher implements it.
type Answerer interface {
	Answer(ctx context.Context, inv *models.Investigation, history []llm.ChatTurn, question string) (string, error)
}

// Service coordinates chat threads on cases.
type Service struct {
	index     Store
	artifacts ArtifactReader
	answerer  Answerer
}

// NewService builds a chat service. answerer may be a nil *llm.Enricher;
// questions then get a fixed disabled notice.
func NewService(index Store, artifacts ArtifactReader, answerer Answerer) *Service {
	return &Service{index: index, artifacts: artifacts, answerer: answerer}
}

// StartThread opens a thread on an existing case.
func (s *Service) StartThread(ctx context.Context, caseID, title string) (*store.ChatThread, error) {
	if _, err := s.index.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.index.CreateThread(ctx, caseID, title)
}

// Threads lists a case's threads.
func (s *Service) Threads(ctx context.Context, caseID string) ([]store.ChatThread, error) {
	return s.index.ListThreads(ctx, caseID)
}

// Messages returns a thread's transcript in order.
func (s *Service) Messages(ctx context.Context, threadID string) ([]store.ChatMessage, error) {
	if _, err := s.index.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	return s.index.ListMessages(ctx, threadID)
}

// Ask records the question, answers it from the case's latest stored run,
// and records the answer. The user message persists even when answering
// fails, so the transcript reflects what was asked.
func (s *Service) Ask(ctx context.Context, threadID, question string) (*store.ChatMessage, error) {
	thread, err := s.index.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	history, err := s.history(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if _, err := s.index.AddMessage(ctx, threadID, string(llm.ChatRoleUser), question); err != nil {
		return nil, err
	}

	inv, err := s.loadLatestRun(ctx, thread.CaseID)
	if err != nil {
		return s.storeFailure(ctx, threadID, fmt.Sprintf("I could not load the investigation record for this case: %v", err))
	}

	answer, err := s.answerer.Answer(ctx, inv, history, question)
	if err != nil {
		slog.Warn("Chat answer failed", "thread_id", threadID, "case_id", thread.CaseID, "error", err)
		return s.storeFailure(ctx, threadID, fmt.Sprintf("I could not answer that: %v", err))
	}

	return s.index.AddMessage(ctx, threadID, string(llm.ChatRoleAssistant), answer)
}

// history converts the stored transcript into chat turns.
func (s *Service) history(ctx context.Context, threadID string) ([]llm.ChatTurn, error) {
	msgs, err := s.index.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	turns := make([]llm.ChatTurn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, llm.ChatTurn{Role: llm.ChatRole(m.Role), Content: m.Content})
	}
	return turns, nil
}

// loadLatestRun reads the case's newest JSON twin from the artifact store.
func (s *Service) loadLatestRun(ctx context.Context, caseID string) (*models.Investigation, error) {
	c, err := s.index.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.LatestRunID == "" {
		return nil, fmt.Errorf("case %s has no runs", caseID)
	}
	run, err := s.index.GetRun(ctx, c.LatestRunID)
	if err != nil {
		return nil, err
	}

	body, err := s.artifacts.ReadReport(ctx, jsonTwinKey(run.ReportKey))
	if err != nil {
		return nil, err
	}
	var inv models.Investigation
	if err := json.Unmarshal(body, &inv); err != nil {
		return nil, fmt.Errorf("decoding stored run %s: %w", run.RunID, err)
	}
	return &inv, nil
}

// storeFailure records an assistant-side failure notice in the transcript.
func (s *Service) storeFailure(ctx context.Context, threadID, notice string) (*store.ChatMessage, error) {
	return s.index.AddMessage(ctx, threadID, string(llm.ChatRoleAssistant), notice)
}

// jsonTwinKey maps a markdown report key to its JSON twin.
func jsonTwinKey(reportKey string) string {
	return strings.TrimSuffix(reportKey, ".md") + ".json"
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/conductor/sharedctx"
	"github.com/BaSui01/conductor/types"
)

// MemoryStore is an in-memory Store implementation for development and
// testing. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool

	workflows   map[string]*types.WorkflowInstance
	stepHistory map[string][]*types.WorkflowStepHistory // workflowID -> ordered rows
	checkpoints map[string][]*types.Checkpoint          // workflowID -> ordered by version

	decisions        map[string]*types.Decision
	decisionVersions map[string][]*types.DecisionVersion // decisionID -> history
	reviews          map[string]*types.DecisionReview
	reviewResponses  map[string][]*types.DecisionReviewResponse // reviewID -> responses
	conflicts        map[string]*types.DecisionConflict
	rules            []*types.ConflictRule

	approvals map[string]*types.ApprovalRequest
	handoffs  map[string][]*types.AgentHandoff // workflowID -> ordered
	messages  map[string][]*types.AgentMessage // workflowID -> ordered

	inputs         map[string][]*types.BufferedInput // workflowID -> ordered
	inputConflicts map[string]*types.InputConflict

	contexts map[string]*sharedctx.Context // workflowID -> context
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:        make(map[string]*types.WorkflowInstance),
		stepHistory:      make(map[string][]*types.WorkflowStepHistory),
		checkpoints:      make(map[string][]*types.Checkpoint),
		decisions:        make(map[string]*types.Decision),
		decisionVersions: make(map[string][]*types.DecisionVersion),
		reviews:          make(map[string]*types.DecisionReview),
		reviewResponses:  make(map[string][]*types.DecisionReviewResponse),
		conflicts:        make(map[string]*types.DecisionConflict),
		approvals:        make(map[string]*types.ApprovalRequest),
		handoffs:         make(map[string][]*types.AgentHandoff),
		messages:         make(map[string][]*types.AgentMessage),
		inputs:           make(map[string][]*types.BufferedInput),
		inputConflicts:   make(map[string]*types.InputConflict),
		contexts:         make(map[string]*sharedctx.Context),
	}
}

// --- WorkflowStore ---

func (s *MemoryStore) AddWorkflow(_ context.Context, wf *types.WorkflowInstance) error {
	if wf == nil || wf.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *wf
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*types.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

func (s *MemoryStore) UpdateWorkflow(_ context.Context, wf *types.WorkflowInstance) error {
	if wf == nil || wf.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return ErrNotFound
	}
	cp := *wf
	cp.UpdatedAt = time.Now().UTC()
	s.workflows[wf.ID] = &cp
	return nil
}

func (s *MemoryStore) AddStepHistory(_ context.Context, h *types.WorkflowStepHistory) error {
	if h == nil || h.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.stepHistory[h.WorkflowInstanceID] = append(s.stepHistory[h.WorkflowInstanceID], &cp)
	return nil
}

func (s *MemoryStore) UpdateStepHistory(_ context.Context, h *types.WorkflowStepHistory) error {
	if h == nil || h.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.stepHistory[h.WorkflowInstanceID]
	for i, row := range rows {
		if row.ID == h.ID {
			cp := *h
			rows[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListStepHistory(_ context.Context, workflowID string) ([]*types.WorkflowStepHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.stepHistory[workflowID]
	out := make([]*types.WorkflowStepHistory, len(rows))
	for i, row := range rows {
		cp := *row
		out[i] = &cp
	}
	return out, nil
}

// --- CheckpointStore ---

func (s *MemoryStore) AddCheckpoint(_ context.Context, cp *types.Checkpoint) error {
	if cp == nil || cp.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cp
	s.checkpoints[cp.WorkflowID] = append(s.checkpoints[cp.WorkflowID], &c)
	sort.SliceStable(s.checkpoints[cp.WorkflowID], func(i, j int) bool {
		return s.checkpoints[cp.WorkflowID][i].Version < s.checkpoints[cp.WorkflowID][j].Version
	})
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cps := range s.checkpoints {
		for _, cp := range cps {
			if cp.ID == id {
				c := *cp
				return &c, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context, workflowID string) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.checkpoints[workflowID]
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	c := *cps[len(cps)-1]
	return &c, nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context, workflowID string, page, pageSize int) ([]*types.Checkpoint, int, error) {
	if page < 1 || pageSize < 1 {
		return nil, 0, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.checkpoints[workflowID]
	total := len(cps)
	start := (page - 1) * pageSize
	if start >= total {
		return []*types.Checkpoint{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	out := make([]*types.Checkpoint, 0, end-start)
	for _, cp := range cps[start:end] {
		c := *cp
		out = append(out, &c)
	}
	return out, total, nil
}

// --- DecisionStore ---

func (s *MemoryStore) AddDecision(_ context.Context, d *types.Decision) error {
	if d == nil || d.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[d.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *d
	s.decisions[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDecision(_ context.Context, id string) (*types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) UpdateDecision(_ context.Context, d *types.Decision) error {
	if d == nil || d.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	cp.UpdatedAt = time.Now().UTC()
	s.decisions[d.ID] = &cp
	return nil
}

func (s *MemoryStore) ListDecisionsByWorkflow(_ context.Context, workflowID string) ([]*types.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Decision
	for _, d := range s.decisions {
		if d.WorkflowInstanceID == workflowID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AddDecisionVersion(_ context.Context, v *types.DecisionVersion) error {
	if v == nil || v.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.decisionVersions[v.DecisionID] = append(s.decisionVersions[v.DecisionID], &cp)
	return nil
}

func (s *MemoryStore) GetDecisionVersion(_ context.Context, decisionID string, versionNumber int) (*types.DecisionVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.decisionVersions[decisionID] {
		if v.VersionNumber == versionNumber {
			cp := *v
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListDecisionVersions(_ context.Context, decisionID string) ([]*types.DecisionVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.decisionVersions[decisionID]
	out := make([]*types.DecisionVersion, len(vs))
	for i, v := range vs {
		cp := *v
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) AddReview(_ context.Context, r *types.DecisionReview) error {
	if r == nil || r.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reviews[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetReview(_ context.Context, id string) (*types.DecisionReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateReview(_ context.Context, r *types.DecisionReview) error {
	if r == nil || r.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	s.reviews[r.ID] = &cp
	return nil
}

func (s *MemoryStore) PendingReviewForDecision(_ context.Context, decisionID string) (*types.DecisionReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reviews {
		if r.DecisionID == decisionID && r.Status == types.ReviewStatusPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) AddReviewResponse(_ context.Context, resp *types.DecisionReviewResponse) error {
	if resp == nil || resp.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *resp
	s.reviewResponses[resp.ReviewID] = append(s.reviewResponses[resp.ReviewID], &cp)
	return nil
}

func (s *MemoryStore) ListReviewResponses(_ context.Context, reviewID string) ([]*types.DecisionReviewResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs := s.reviewResponses[reviewID]
	out := make([]*types.DecisionReviewResponse, len(rs))
	for i, r := range rs {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) AddConflict(_ context.Context, c *types.DecisionConflict) error {
	if c == nil || c.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.conflicts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetConflict(_ context.Context, id string) (*types.DecisionConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateConflict(_ context.Context, c *types.DecisionConflict) error {
	if c == nil || c.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conflicts[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	s.conflicts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) ListConflictsByDecision(_ context.Context, decisionID string) ([]*types.DecisionConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.DecisionConflict
	for _, c := range s.conflicts {
		if c.DecisionID == decisionID || c.ConflictsWith == decisionID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *MemoryStore) AddRule(_ context.Context, r *types.ConflictRule) error {
	if r == nil || r.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rules = append(s.rules, &cp)
	return nil
}

func (s *MemoryStore) ListActiveRules(_ context.Context) ([]*types.ConflictRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.ConflictRule
	for _, r := range s.rules {
		if r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- ApprovalStore ---

func (s *MemoryStore) AddApproval(_ context.Context, req *types.ApprovalRequest) error {
	if req == nil || req.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.approvals[req.ID] = &cp
	return nil
}

func (s *MemoryStore) GetApproval(_ context.Context, id string) (*types.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryStore) UpdateApproval(_ context.Context, req *types.ApprovalRequest) error {
	if req == nil || req.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[req.ID]; !ok {
		return ErrNotFound
	}
	cp := *req
	s.approvals[req.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPendingCreatedBefore(_ context.Context, cutoff time.Time) ([]*types.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.ApprovalRequest
	for _, req := range s.approvals {
		if req.Status == types.ApprovalStatusPending && req.CreatedAt.Before(cutoff) {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- HandoffStore ---

func (s *MemoryStore) AddHandoff(_ context.Context, h *types.AgentHandoff) error {
	if h == nil || h.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.handoffs[h.WorkflowInstanceID] = append(s.handoffs[h.WorkflowInstanceID], &cp)
	return nil
}

func (s *MemoryStore) ListHandoffs(_ context.Context, workflowID string) ([]*types.AgentHandoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs := s.handoffs[workflowID]
	out := make([]*types.AgentHandoff, len(hs))
	for i, h := range hs {
		cp := *h
		out[i] = &cp
	}
	return out, nil
}

// --- MessageStore ---

func (s *MemoryStore) AddMessage(_ context.Context, m *types.AgentMessage) error {
	if m == nil || m.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.WorkflowInstanceID] = append(s.messages[m.WorkflowInstanceID], &cp)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, workflowID string) ([]*types.AgentMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms := s.messages[workflowID]
	out := make([]*types.AgentMessage, len(ms))
	for i, m := range ms {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

// --- InputStore ---

func (s *MemoryStore) AddInput(_ context.Context, in *types.BufferedInput) error {
	if in == nil || in.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *in
	s.inputs[in.WorkflowInstanceID] = append(s.inputs[in.WorkflowInstanceID], &cp)
	return nil
}

func (s *MemoryStore) LatestUnapplied(_ context.Context, workflowID, fieldName string) (*types.BufferedInput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ins := s.inputs[workflowID]
	for i := len(ins) - 1; i >= 0; i-- {
		if ins[i].FieldName == fieldName && !ins[i].IsApplied {
			cp := *ins[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListUnapplied(_ context.Context, workflowID string) ([]*types.BufferedInput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.BufferedInput
	for _, in := range s.inputs[workflowID] {
		if !in.IsApplied {
			cp := *in
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkApplied(_ context.Context, inputIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(inputIDs))
	for _, id := range inputIDs {
		ids[id] = struct{}{}
	}
	for _, ins := range s.inputs {
		for _, in := range ins {
			if _, ok := ids[in.ID]; ok {
				in.IsApplied = true
			}
		}
	}
	return nil
}

func (s *MemoryStore) AddInputConflict(_ context.Context, c *types.InputConflict) error {
	if c == nil || c.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.inputConflicts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInputConflict(_ context.Context, id string) (*types.InputConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.inputConflicts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateInputConflict(_ context.Context, c *types.InputConflict) error {
	if c == nil || c.ID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inputConflicts[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	s.inputConflicts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) ListInputConflicts(_ context.Context, workflowID string) ([]*types.InputConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.InputConflict
	for _, c := range s.inputConflicts {
		if c.WorkflowInstanceID == workflowID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

// --- sharedctx.Store ---

func (s *MemoryStore) Load(_ context.Context, workflowID string) (*sharedctx.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[workflowID]
	if !ok {
		return sharedctx.New(), nil
	}
	return c.Clone(), nil
}

// Update is the in-process compare-and-swap. A missing persisted context
// counts as version 0.
func (s *MemoryStore) Update(_ context.Context, workflowID string, expectedVersion int, updated *sharedctx.Context) (bool, error) {
	if updated == nil {
		return false, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := 0
	if c, ok := s.contexts[workflowID]; ok {
		current = c.Version
	}
	if current != expectedVersion {
		return false, nil
	}
	s.contexts[workflowID] = updated.Clone()
	return true, nil
}

// --- lifecycle ---

func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

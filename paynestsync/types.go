package paynestsync

import (
	"encoding/json"
	"sync"

	"github.com/oakfield/lettings_backend/utils"
)

type SyncModules struct {
	Properties    bool `json:"properties"`
	Tenants       bool `json:"tenants"`
	Beneficiaries bool `json:"beneficiaries"`
	Leases        bool `json:"leases"`
	Transactions  bool `json:"transactions"`
	Maintenance   bool `json:"maintenance"`
	Tags          bool `json:"tags"`
}

func DefaultModules() SyncModules {
	return SyncModules{
		Properties:    true,
		Tenants:       true,
		Beneficiaries: true,
		Leases:        true,
		Transactions:  true,
		Maintenance:   false,
		Tags:          false,
	}
}

func NormalizeModules(mod SyncModules) SyncModules {
	// Transactions cannot reconcile without the entities they reference.
	if mod.Transactions {
		mod.Properties = true
		mod.Tenants = true
	}
	return mod
}

func DecodeModules(raw []byte) SyncModules {
	if len(raw) == 0 {
		return DefaultModules()
	}
	var mod SyncModules
	if err := utils.UnmarshalFromJSON(raw, &mod); err != nil {
		return DefaultModules()
	}
	return NormalizeModules(mod)
}

func EncodeModules(mod SyncModules) []byte {
	b, _ := json.Marshal(NormalizeModules(mod))
	return b
}

func isEmptyModules(mod SyncModules) bool {
	return !mod.Properties && !mod.Tenants && !mod.Beneficiaries &&
		!mod.Leases && !mod.Transactions && !mod.Maintenance && !mod.Tags
}

// SyncResult is the structured outcome of one sync pass. Errors is bounded;
// past the cap only the counter grows.
type SyncResult struct {
	Status   string         `json:"status"`
	Created  int            `json:"created"`
	Updated  int            `json:"updated"`
	Skipped  int            `json:"skipped"`
	Failed   int            `json:"failed"`
	Rejected map[string]int `json:"rejected,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
	errorCap int
}

const defaultErrorCap = 25

func NewSyncResult() *SyncResult {
	return &SyncResult{
		Rejected: map[string]int{},
		errorCap: defaultErrorCap,
	}
}

func (r *SyncResult) AddError(msg string) {
	r.Failed++
	if r.errorCap == 0 {
		r.errorCap = defaultErrorCap
	}
	if len(r.Errors) < r.errorCap {
		r.Errors = append(r.Errors, msg)
	}
}

func (r *SyncResult) Reject(reason string) {
	if r.Rejected == nil {
		r.Rejected = map[string]int{}
	}
	r.Rejected[reason]++
	r.Skipped++
}

func (r *SyncResult) Total() int {
	return r.Created + r.Updated + r.Skipped + r.Failed
}

// Finalize sets Status from the counters: failure when nothing succeeded,
// partial when something did despite failures.
func (r *SyncResult) Finalize() {
	switch {
	case r.Failed == 0:
		r.Status = "success"
	case r.Created+r.Updated+r.Skipped == 0:
		r.Status = "failure"
	default:
		r.Status = "partial"
	}
}

// RunContext carries per-run debug counters and samples through the fetch
// and upsert pipeline. One instance per sync run, passed explicitly.
type RunContext struct {
	RunId         uint
	CorrelationId string
	Debug         bool
	SampleSize    int

	mu           sync.Mutex
	pagesFetched int
	itemsSeen    int
	mapperErrors int
	samples      []string
}

func NewRunContext(runId uint, correlationId string, debug bool, sampleSize int) *RunContext {
	if sampleSize <= 0 {
		sampleSize = 10
	}
	return &RunContext{
		RunId:         runId,
		CorrelationId: correlationId,
		Debug:         debug,
		SampleSize:    sampleSize,
	}
}

func (rc *RunContext) CountPage() {
	rc.mu.Lock()
	rc.pagesFetched++
	rc.mu.Unlock()
}

func (rc *RunContext) CountItems(n int) {
	rc.mu.Lock()
	rc.itemsSeen += n
	rc.mu.Unlock()
}

func (rc *RunContext) CountMapperError(sample string) {
	rc.mu.Lock()
	rc.mapperErrors++
	if rc.Debug && len(rc.samples) < rc.SampleSize {
		rc.samples = append(rc.samples, sample)
	}
	rc.mu.Unlock()
}

func (rc *RunContext) Stats() (pages int, items int, mapperErrors int, samples []string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, len(rc.samples))
	copy(out, rc.samples)
	return rc.pagesFetched, rc.itemsSeen, rc.mapperErrors, out
}

type TriggerSyncRequest struct {
	Modules SyncModules `json:"modules"`
}

type StatusResponse struct {
	Provider          string      `json:"provider"`
	LastSyncAt        *string     `json:"lastSyncAt"`
	LastSuccessSyncAt *string     `json:"lastSuccessSyncAt"`
	Modules           SyncModules `json:"modules"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Status        string  `json:"status"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
	RecordsSynced int     `json:"recordsSynced"`
	ErrorCount    int     `json:"errorCount"`
	TriggeredBy   string  `json:"triggeredBy"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId         uint   `json:"run_id"`
	CorrelationId string `json:"correlation_id"`
}

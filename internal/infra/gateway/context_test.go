package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/hbci-session-go/internal/domain"
	"github.com/boddenberg/hbci-session-go/internal/infra/gateway"
	"github.com/boddenberg/hbci-session-go/internal/infra/resilience"
	"github.com/boddenberg/hbci-session-go/internal/port"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

var _ port.BankingContext = (*gateway.Context)(nil)

// fakeGateway scripts interactions: each job answers with the queued
// callbacks first, then with its result.
type fakeGateway struct {
	t *testing.T

	mu          sync.Mutex
	callbacks   map[string][]gateway.CallbackDTO // by job name
	results     map[string]any
	failures    map[string]*gateway.ErrorDTO
	pending     map[string][]gateway.CallbackDTO // by interaction id
	finals      map[string]string                // interaction id -> job
	answers     []gateway.AnswerRequest
	jobRequests []gateway.JobRequest
	requestIDs  []string
	subjects    []string
	nextID      int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	return &fakeGateway{
		t:         t,
		callbacks: make(map[string][]gateway.CallbackDTO),
		results:   make(map[string]any),
		failures:  make(map[string]*gateway.ErrorDTO),
		pending:   make(map[string][]gateway.CallbackDTO),
		finals:    make(map[string]string),
	}
}

func (f *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/passports", func(w http.ResponseWriter, r *http.Request) {
		var req gateway.PassportRequest
		f.authorize(r)
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.HBCIVersion != "300" || req.PassportType != "PinTan" {
			f.t.Errorf("unexpected passport request %+v", req)
		}
		f.start(w, "Passport")
	})
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req gateway.JobRequest
		f.authorize(r)
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.jobRequests = append(f.jobRequests, req)
		f.mu.Unlock()
		f.start(w, req.Job)
	})
	mux.HandleFunc("POST /v1/jobs/{id}/answers", func(w http.ResponseWriter, r *http.Request) {
		var req gateway.AnswerRequest
		f.authorize(r)
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.answers = append(f.answers, req)
		f.mu.Unlock()
		f.next(w, r.PathValue("id"))
	})
	return mux
}

func (f *fakeGateway) recorded() ([]gateway.AnswerRequest, []gateway.JobRequest, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.AnswerRequest(nil), f.answers...),
		append([]gateway.JobRequest(nil), f.jobRequests...),
		append([]string(nil), f.subjects...)
}

func (f *fakeGateway) authorize(r *http.Request) {
	claims, err := gateway.VerifyToken(testSecret, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if err != nil {
		f.t.Errorf("invalid token: %v", err)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, claims.Subject)
	f.requestIDs = append(f.requestIDs, r.Header.Get("X-Request-ID"))
}

func (f *fakeGateway) start(w http.ResponseWriter, job string) {
	f.mu.Lock()
	f.nextID++
	id := "job-" + strconv.Itoa(f.nextID)
	f.pending[id] = append([]gateway.CallbackDTO(nil), f.callbacks[job]...)
	f.finals[id] = job
	f.mu.Unlock()
	f.next(w, id)
}

func (f *fakeGateway) next(w http.ResponseWriter, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	env := gateway.Envelope{ID: id, Logs: []gateway.LogDTO{{Message: "step " + id, Level: 3}}}
	if queue := f.pending[id]; len(queue) > 0 {
		cb := queue[0]
		f.pending[id] = queue[1:]
		env.State = gateway.StateCallback
		env.Callback = &cb
	} else if failure := f.failures[f.finals[id]]; failure != nil {
		env.State = gateway.StateFailed
		env.Error = failure
	} else {
		env.State = gateway.StateDone
		env.StatusEvents = []gateway.StatusDTO{{Tag: 7}}
		raw, _ := json.Marshal(f.results[f.finals[id]])
		env.Result = raw
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func newTestContext(t *testing.T, handler http.Handler) *gateway.Context {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	signer := gateway.NewTokenSigner(testSecret, time.Minute)
	t.Cleanup(signer.Close)

	client := gateway.NewClient(
		srv.Client(),
		srv.URL,
		signer,
		resilience.NewCircuitBreaker("test-gateway", zap.NewNop()),
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		zap.NewNop(),
	)
	ctx := gateway.NewContext(client, zap.NewNop())
	t.Cleanup(ctx.Close)
	return ctx
}

func TestAddPassport_AnswersCallbacks(t *testing.T) {
	fake := newFakeGateway(t)
	fake.callbacks["Passport"] = []gateway.CallbackDTO{
		{Reason: int64(domain.ReasonNeedBLZ), Message: "Bankleitzahl"},
		{Reason: int64(domain.ReasonNeedPTPIN), Message: "PIN"},
	}
	fake.results["Passport"] = gateway.PassportResult{OK: true}
	bc := newTestContext(t, fake.handler())

	var asked []domain.Reason
	bc.OnCallback(func(_ context.Context, req domain.CallbackRequest) string {
		asked = append(asked, req.Reason)
		if req.Reason == domain.ReasonNeedBLZ {
			return "12030000"
		}
		return "12345"
	})
	var logs []string
	bc.OnLog(func(_ context.Context, msg string, _ domain.LogLevel) { logs = append(logs, msg) })
	var statuses []int64
	bc.OnStatus(func(_ context.Context, tag int64, _ string) { statuses = append(statuses, tag) })

	ok, err := bc.AddPassport(context.Background(), "12030000", "user1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok {
		t.Fatal("expected passport to be created")
	}

	if len(asked) != 2 || asked[0] != domain.ReasonNeedBLZ || asked[1] != domain.ReasonNeedPTPIN {
		t.Errorf("unexpected callbacks %v", asked)
	}
	answers, _, subjects := fake.recorded()
	if len(answers) != 2 || answers[0].Value != "12030000" || answers[1].Value != "12345" {
		t.Errorf("unexpected answers %+v", answers)
	}
	if len(logs) != 3 {
		t.Errorf("expected 3 log events, got %v", logs)
	}
	if len(statuses) != 1 || statuses[0] != 7 {
		t.Errorf("unexpected status events %v", statuses)
	}
	for _, sub := range subjects {
		if sub != "user1" {
			t.Errorf("expected token subject user1, got %s", sub)
		}
	}
}

func TestAddPassport_NotOK(t *testing.T) {
	fake := newFakeGateway(t)
	fake.results["Passport"] = gateway.PassportResult{OK: false}
	bc := newTestContext(t, fake.handler())

	ok, err := bc.AddPassport(context.Background(), "12030000", "user1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatal("expected passport status false")
	}

	_, err = bc.GetAccounts(context.Background(), "12030000", "user1")
	var noPassport *domain.ErrNoPassport
	if !errors.As(err, &noPassport) {
		t.Fatalf("expected ErrNoPassport, got %v", err)
	}
}

func TestJobs_FullFlow(t *testing.T) {
	fake := newFakeGateway(t)
	fake.results["Passport"] = gateway.PassportResult{OK: true}
	fake.results[gateway.JobAccounts] = gateway.AccountsResult{Accounts: []domain.Account{
		{Country: "DE", BLZ: "12030000", Number: "1234567890", Currency: "EUR"},
	}}
	fake.results[gateway.JobBalance] = gateway.BalanceResult{Balances: []gateway.BalanceDTO{
		{Ready: gateway.SaldoDTO{Value: "1234.56 EUR"}},
		{Ready: gateway.SaldoDTO{Value: "0.00 EUR"}},
	}}
	fake.results[gateway.JobStatements] = gateway.StatementsResult{Lines: []domain.TurnoverLine{{
		Valuta:      "2024-03-01",
		BookingDate: "2024-03-02",
		Value:       "-12.50 EUR",
		Saldo:       "1234.56 EUR",
		GVCode:      "106",
		Text:        "KARTENZAHLUNG",
		Usage:       []string{"EREF+INV-2024-001", "SVWZ+Coffee beans"},
		Other:       &domain.Counterparty{Name: "Roastery ", Name2: "GmbH", Number: "DE02120300000000202051", BLZ: "BYLADEM1001"},
	}}}
	bc := newTestContext(t, fake.handler())
	ctx := context.Background()

	if _, err := bc.AddPassport(ctx, "12030000", "user1"); err != nil {
		t.Fatal(err)
	}

	accounts, err := bc.GetAccounts(ctx, "12030000", "user1")
	if err != nil {
		t.Fatalf("get accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Number != "1234567890" {
		t.Fatalf("unexpected accounts %v", accounts)
	}
	if _, ok := bc.Account("12030000", "user1", "1234567890"); !ok {
		t.Error("expected account to be remembered")
	}

	balance, err := bc.GetBalances(ctx, "12030000", "user1", "1234567890")
	if err != nil {
		t.Fatalf("get balances: %v", err)
	}
	if balance != "1234.56 EUR" {
		t.Errorf("expected first ready balance, got %q", balance)
	}

	statements, err := bc.GetStatements(ctx, "12030000", "user1", "1234567890")
	if err != nil {
		t.Fatalf("get statements: %v", err)
	}
	if len(statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(statements))
	}
	st := statements[0]
	if st.Valuta.String() != "1. 3. 2024" || st.BookingDate.String() != "2. 3. 2024" {
		t.Errorf("unexpected dates %s / %s", st.Valuta, st.BookingDate)
	}
	if st.EREF != "INV-2024-001" || st.Reference != "Coffee beans" {
		t.Errorf("unexpected prettified statement %+v", st)
	}
	if st.TransactionType != "KARTENZAHLUNG" {
		t.Errorf("unexpected transaction type %q", st.TransactionType)
	}
	if st.OtherName != "Roastery GmbH" || st.OtherIBAN != "DE02120300000000202051" || st.OtherBIC != "BYLADEM1001" {
		t.Errorf("unexpected counterparty %+v", st)
	}

	var balanceReq gateway.JobRequest
	_, jobRequests, _ := fake.recorded()
	for _, r := range jobRequests {
		if r.Job == gateway.JobBalance {
			balanceReq = r
		}
	}
	if balanceReq.Params["my.country"] != "DE" || balanceReq.Params["my.blz"] != "12030000" || balanceReq.Params["my.number"] != "1234567890" {
		t.Errorf("unexpected job params %v", balanceReq.Params)
	}
}

func TestJob_FailedWithReason(t *testing.T) {
	fake := newFakeGateway(t)
	fake.callbacks["Passport"] = []gateway.CallbackDTO{{Reason: int64(domain.ReasonNeedPTPIN), Message: "PIN"}}
	fake.failures["Passport"] = &gateway.ErrorDTO{Message: "PIN rejected", Reason: int64(domain.ReasonWrongPIN)}
	bc := newTestContext(t, fake.handler())

	_, err := bc.AddPassport(context.Background(), "12030000", "user1")
	var aborted *domain.ErrInteractionAborted
	if !errors.As(err, &aborted) {
		t.Fatalf("expected ErrInteractionAborted, got %v", err)
	}
	if aborted.Reason != domain.ReasonWrongPIN {
		t.Errorf("expected WRONG_PIN, got %s", aborted.Reason)
	}
}

func TestJob_FailedWithoutReason(t *testing.T) {
	fake := newFakeGateway(t)
	fake.results["Passport"] = gateway.PassportResult{OK: true}
	fake.failures[gateway.JobBalance] = &gateway.ErrorDTO{Message: "job not supported"}
	bc := newTestContext(t, fake.handler())
	ctx := context.Background()

	if _, err := bc.AddPassport(ctx, "12030000", "user1"); err != nil {
		t.Fatal(err)
	}
	_, err := bc.GetBalances(ctx, "12030000", "user1", "1")
	var failed *domain.ErrJobFailed
	if !errors.As(err, &failed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if failed.Job != gateway.JobBalance || failed.Reason != "job not supported" {
		t.Errorf("unexpected failure %+v", failed)
	}
}

func TestContext_RejectsReentry(t *testing.T) {
	fake := newFakeGateway(t)
	fake.callbacks["Passport"] = []gateway.CallbackDTO{{Reason: int64(domain.ReasonNeedBLZ)}}
	fake.results["Passport"] = gateway.PassportResult{OK: true}
	bc := newTestContext(t, fake.handler())

	var nestedErr error
	bc.OnCallback(func(ctx context.Context, _ domain.CallbackRequest) string {
		_, nestedErr = bc.GetAccounts(ctx, "12030000", "user1")
		return "12030000"
	})

	if _, err := bc.AddPassport(context.Background(), "12030000", "user1"); err != nil {
		t.Fatalf("expected outer call to succeed, got %v", err)
	}
	var busy *domain.ErrContextBusy
	if !errors.As(nestedErr, &busy) {
		t.Fatalf("expected ErrContextBusy, got %v", nestedErr)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	fake := newFakeGateway(t)
	fake.results["Passport"] = gateway.PassportResult{OK: true}
	inner := fake.handler()

	var calls atomic.Int32
	var ids sync.Map
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids.Store(r.Header.Get("X-Request-ID"), true)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		inner.ServeHTTP(w, r)
	})
	bc := newTestContext(t, handler)

	ok, err := bc.AddPassport(context.Background(), "12030000", "user1")
	if err != nil || !ok {
		t.Fatalf("expected success after retry, got %v / %v", ok, err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
	n := 0
	ids.Range(func(_, _ any) bool { n++; return true })
	if n != 1 {
		t.Errorf("expected retries to reuse the request id, got %d ids", n)
	}
}

func TestClient_UnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	bc := newTestContext(t, handler)

	_, err := bc.AddPassport(context.Background(), "12030000", "user1")

	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var external *domain.ErrExternalService
	if !errors.As(err, &external) || external.Service != gateway.ServiceName {
		t.Errorf("expected error wrapped as external service error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestTokenSigner_ReusesToken(t *testing.T) {
	signer := gateway.NewTokenSigner(testSecret, time.Minute)
	defer signer.Close()

	first, err := signer.Token("12030000", "user1")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := signer.Token("12030000", "user1")
	if first != second {
		t.Error("expected cached token to be reused")
	}
	other, _ := signer.Token("12030000", "user2")
	if other == first {
		t.Error("expected distinct token per passport")
	}

	claims, err := gateway.VerifyToken(testSecret, first)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if claims.BLZ != "12030000" || claims.Subject != "user1" || claims.ID == "" {
		t.Errorf("unexpected claims %+v", claims)
	}

	if _, err := gateway.VerifyToken("wrong-secret", first); err == nil {
		t.Error("expected verification to fail with wrong secret")
	}
}

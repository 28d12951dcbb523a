package routes

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/trusttoken/contracts-pre22-sub001/core/token"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	"github.com/trusttoken/contracts-pre22-sub001/native/creditbook"
	"github.com/trusttoken/contracts-pre22-sub001/native/lender"
	"github.com/trusttoken/contracts-pre22-sub001/native/loans"
	"github.com/trusttoken/contracts-pre22-sub001/native/mutex"
	"github.com/trusttoken/contracts-pre22-sub001/native/oracle"
	"github.com/trusttoken/contracts-pre22-sub001/native/pool"
	"github.com/trusttoken/contracts-pre22-sub001/native/rates"
	"github.com/trusttoken/contracts-pre22-sub001/state"
	"github.com/trusttoken/contracts-pre22-sub001/storage"
)

type fixture struct {
	handler  http.Handler
	pool     pool.Pool
	loans    *loans.Engine
	borrower crypto.Address
}

func testAddr(label string) crypto.Address {
	digest := ethcrypto.Keccak256([]byte(label))
	return crypto.NewAddress(crypto.TruPrefix, digest[12:])
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())

	currency := token.NewLedger("USDC", 6)
	poolAddr := crypto.NewAddress(crypto.PoolPrefix, ethcrypto.Keccak256([]byte("pool/usdc"))[12:])
	p := pool.NewSimplePool(poolAddr, currency)
	pools := pool.NewSet(p)

	creditOracle := oracle.NewSimpleCreditOracle()
	adjuster := rates.NewAdjuster(creditOracle)
	adjuster.SetRiskPremium(700)
	adjuster.SetBaseRateOracle(poolAddr, oracle.FixedRateOracle{RateBps: 300})
	adjuster.SetTVLSource(pools)

	mutexEngine := mutex.NewEngine()
	mutexEngine.SetState(manager)

	loanEngine := loans.NewEngine()
	loanEngine.SetState(manager)
	loanEngine.RegisterPool(p)

	lenderEngine := lender.NewEngine(testAddr("lender"))
	lenderEngine.SetState(manager)
	lenderEngine.SetLoanBook(loanEngine)
	lenderEngine.SetMutex(mutexEngine)
	lenderEngine.RegisterPool(p)

	creditEngine := creditbook.NewEngine(testAddr("credit-agency"))
	creditEngine.SetState(manager)
	creditEngine.SetRateModel(adjuster)
	creditEngine.SetCreditOracle(creditOracle)
	creditEngine.SetMutex(mutexEngine)
	creditEngine.AllowPool(p)

	handler := New(Config{Node: Node{
		Loans:  loanEngine,
		Lender: lenderEngine,
		Credit: creditEngine,
		Rates:  adjuster,
		Pools:  pools,
		State:  manager,
		Oracle: creditOracle,
	}})

	return &fixture{
		handler:  handler,
		pool:     p,
		loans:    loanEngine,
		borrower: testAddr("borrower"),
	}
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	var body map[string]interface{}
	if res.Body.Len() > 0 {
		if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return res, body
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestListLoansEmpty(t *testing.T) {
	f := newFixture(t)
	res, body := f.get(t, "/v1/loans")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	list, ok := body["loans"].([]interface{})
	if !ok || len(list) != 0 {
		t.Fatalf("expected empty loan list, got %v", body["loans"])
	}
}

func TestGetLoanByID(t *testing.T) {
	f := newFixture(t)
	principal := big.NewInt(1_000_000_000)
	id, err := f.loans.Create(f.pool, f.borrower, principal, 365*24*3600, 1000)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}

	res, body := f.get(t, "/v1/loans/"+hex.EncodeToString(id[:]))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if body["principal"] != principal.String() {
		t.Fatalf("expected principal %s, got %v", principal, body["principal"])
	}
	if body["status"] != "awaiting" {
		t.Fatalf("expected awaiting status, got %v", body["status"])
	}
	if body["borrower"] != f.borrower.String() {
		t.Fatalf("expected borrower %s, got %v", f.borrower, body["borrower"])
	}

	res, body = f.get(t, "/v1/loans")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if list, _ := body["loans"].([]interface{}); len(list) != 1 {
		t.Fatalf("expected one loan listed, got %v", body["loans"])
	}
}

func TestGetLoanRejectsBadID(t *testing.T) {
	f := newFixture(t)
	res, _ := f.get(t, "/v1/loans/nothex")
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", res.Code)
	}

	missing := testAddr("missing")
	var id [32]byte
	copy(id[12:], missing.Bytes())
	res, _ = f.get(t, "/v1/loans/"+hex.EncodeToString(id[:]))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", res.Code)
	}
}

func TestPoolListAndRate(t *testing.T) {
	f := newFixture(t)
	res, body := f.get(t, "/v1/pools")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if list, _ := body["pools"].([]interface{}); len(list) != 1 {
		t.Fatalf("expected one pool, got %v", body["pools"])
	}

	res, body = f.get(t, "/v1/pools/"+f.pool.Address().String()+"/rates/255")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	// base 300 + premium 700, score 255 and an empty pool add nothing.
	if rate, _ := body["rateBps"].(float64); rate != 1000 {
		t.Fatalf("expected rate 1000, got %v", body["rateBps"])
	}
}

func TestPoolNotFound(t *testing.T) {
	f := newFixture(t)
	unknown := crypto.NewAddress(crypto.PoolPrefix, ethcrypto.Keccak256([]byte("pool/other"))[12:])
	res, _ := f.get(t, "/v1/pools/"+unknown.String())
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered pool, got %d", res.Code)
	}
}

func TestCreditBucketAndPoke(t *testing.T) {
	f := newFixture(t)
	poolPath := "/v1/credit/" + f.pool.Address().String()

	res, body := f.get(t, poolPath+"/buckets/100")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if body["totalBorrowed"] != "0" {
		t.Fatalf("expected empty bucket, got %v", body["totalBorrowed"])
	}

	req := httptest.NewRequest(http.MethodPost, poolPath+"/poke", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected poke to succeed, got %d", rec.Code)
	}

	res, body = f.get(t, poolPath+"/interest-paid")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if body["interestPaid"] != "0" {
		t.Fatalf("expected zero interest paid, got %v", body["interestPaid"])
	}
}

func TestOracleAdminEndpoint(t *testing.T) {
	f := newFixture(t)
	payload := strings.NewReader(`{"score":200,"maxLimit":"1000000","status":"eligible"}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/credit/oracle/"+f.borrower.String(), payload)
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected oracle update to succeed, got %d: %s", res.Code, res.Body.String())
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/credit/oracle/"+f.borrower.String(),
		strings.NewReader(`{"score":200,"maxLimit":"1000000","status":"bogus"}`))
	res = httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/credit/borrowers/"+f.borrower.String()+"/allow", nil)
	res = httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected borrower allow to succeed, got %d", res.Code)
	}
}

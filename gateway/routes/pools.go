package routes

import (
	"encoding/hex"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trusttoken/contracts-pre22-sub001/native/pool"
	"github.com/trusttoken/contracts-pre22-sub001/observability"
)

// poolRoutes exposes pool inventory, model rates, and lender holdings.
type poolRoutes struct {
	node Node
}

func (pr *poolRoutes) mount(r chi.Router) {
	r.Get("/", pr.list)
	r.Get("/{pool}", pr.get)
	r.Get("/{pool}/rates/{score}", pr.rate)
	r.Get("/{pool}/limit/{borrower}", pr.limit)
	r.Get("/{pool}/lender/value", pr.lenderValue)
	r.Get("/{pool}/lender/loans", pr.lenderLoans)
}

type poolView struct {
	Address     string `json:"address"`
	PoolValue   string `json:"poolValue"`
	LiquidValue string `json:"liquidValue"`
	Decimals    uint8  `json:"decimals"`
}

func newPoolView(p pool.Pool) poolView {
	return poolView{
		Address:     p.Address().String(),
		PoolValue:   bigString(p.PoolValue()),
		LiquidValue: bigString(p.LiquidValue()),
		Decimals:    p.CurrencyToken().Decimals(),
	}
}

func (pr *poolRoutes) list(w http.ResponseWriter, r *http.Request) {
	registered := pr.node.Pools.Pools()
	views := make([]poolView, 0, len(registered))
	for _, p := range registered {
		views = append(views, newPoolView(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pools":            views,
		"totalValueLocked": bigString(pr.node.Pools.TotalValueLocked()),
	})
}

func (pr *poolRoutes) get(w http.ResponseWriter, r *http.Request) {
	p, ok := pr.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(p))
}

func (pr *poolRoutes) rate(w http.ResponseWriter, r *http.Request) {
	p, ok := pr.lookup(w, r)
	if !ok {
		return
	}
	score, err := scoreParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bps, err := pr.node.Rates.Rate(p, score, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pool":    p.Address().String(),
		"score":   score,
		"rateBps": bps,
	})
}

func (pr *poolRoutes) limit(w http.ResponseWriter, r *http.Request) {
	p, ok := pr.lookup(w, r)
	if !ok {
		return
	}
	borrower, err := addrParam(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"pool":     p.Address().String(),
		"borrower": borrower.String(),
		"limit":    bigString(pr.node.Rates.BorrowLimit(p, borrower)),
	})
}

func (pr *poolRoutes) lenderValue(w http.ResponseWriter, r *http.Request) {
	p, ok := pr.lookup(w, r)
	if !ok {
		return
	}
	value, err := pr.node.Lender.Value(p.Address())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	observability.Loans().RecordOutstanding(p.Address().String(), value)
	writeJSON(w, http.StatusOK, map[string]string{
		"pool":  p.Address().String(),
		"value": bigString(value),
	})
}

func (pr *poolRoutes) lenderLoans(w http.ResponseWriter, r *http.Request) {
	p, ok := pr.lookup(w, r)
	if !ok {
		return
	}
	ids, err := pr.node.State.FundedLoans(p.Address())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encoded := make([]string, 0, len(ids))
	for _, id := range ids {
		encoded = append(encoded, hex.EncodeToString(id[:]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pool":  p.Address().String(),
		"loans": encoded,
	})
}

func (pr *poolRoutes) lookup(w http.ResponseWriter, r *http.Request) (pool.Pool, bool) {
	addr, err := addrParam(r, "pool")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	p := pr.node.Pools.Find(addr)
	if p == nil {
		writeNotFound(w, "pool")
		return nil, false
	}
	return p, true
}

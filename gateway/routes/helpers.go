package routes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/trusttoken/contracts-pre22-sub001/crypto"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeNotFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: what + " not found"})
}

func addrParam(r *http.Request, name string) (crypto.Address, error) {
	raw := chi.URLParam(r, name)
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid %s address %q", name, raw)
	}
	return addr, nil
}

func loanIDParam(r *http.Request) ([32]byte, error) {
	raw := chi.URLParam(r, "id")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return [32]byte{}, fmt.Errorf("invalid loan id %q", raw)
	}
	var id [32]byte
	copy(id[:], decoded)
	return id, nil
}

func scoreParam(r *http.Request) (uint8, error) {
	raw := chi.URLParam(r, "score")
	value, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q", raw)
	}
	return uint8(value), nil
}

// bigString renders big amounts as decimal strings so integer precision
// survives JSON round-trips.
func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

package httpapi

import (
	"net/http"
)

func NewMux(db Pinger, session SessionStatus) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, session)
	return mux
}

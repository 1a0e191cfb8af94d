package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Upstream de teste para o gateway. FAIL_EVERY=n faz cada n-ésima requisição
// responder 500; POST /fail e POST /heal ligam e desligam a falha total,
// o que basta para ver o breaker abrir e se recuperar.
func main() {
	failEvery, _ := strconv.Atoi(os.Getenv("FAIL_EVERY"))

	var failing atomic.Bool
	var hits atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if failing.Load() || (failEvery > 0 && n%int64(failEvery) == 0) {
			logrus.WithField("hit", n).Warn("respondendo 500")
			http.Error(w, "falha simulada", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
		logrus.WithField("hit", n).Info("alguém acessou o endpoint /showTela")
	})
	mux.HandleFunc("POST /fail", func(w http.ResponseWriter, r *http.Request) {
		failing.Store(true)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /heal", func(w http.ResponseWriter, r *http.Request) {
		failing.Store(false)
		w.WriteHeader(http.StatusNoContent)
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	logrus.Infof("servidor rodando em http://localhost%s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.Fatalf("erro ao subir o servidor: %s", err)
	}
}

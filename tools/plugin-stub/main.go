// Command plugin-stub answers the plugin wire protocol and the data-model
// expression endpoint for local runs of wecube-batch.
//
// Every POST outside the fixed routes is treated as a plugin interface call:
// each input yields one output echoing it. An input with "action": "fail"
// yields a failed output. Set DELAY to slow every call down.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type call struct {
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
	RequestID string `json:"request_id"`
	Inputs    int    `json:"inputs"`
}

type stats struct {
	Count     int64  `json:"count"`
	LastCalls []call `json:"last_calls"`
	Since     string `json:"since"`
}

type pluginRequest struct {
	RequestID string           `json:"requestId"`
	Inputs    []map[string]any `json:"inputs"`
}

type fetchRequest struct {
	DataModelExpression string `json:"dataModelExpression"`
	RootDataID          string `json:"rootDataId"`
}

var (
	mu        sync.Mutex
	count     int64
	lastCalls []call
	since     time.Time
	maxStored = 50
	delay     time.Duration
)

func main() {
	since = time.Now().UTC()

	addr := ":20000"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	if v := os.Getenv("DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid DELAY %q: %v", v, err)
		}
		delay = d
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", statsHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastCalls = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})
	mux.HandleFunc("/data-model/expressions/fetch", fetchHandler)
	mux.HandleFunc("/", pluginHandler)

	log.Printf("plugin-stub listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func pluginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	var req pluginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"resultCode":    "1",
			"resultMessage": "invalid request: " + err.Error(),
		})
		return
	}

	mu.Lock()
	count++
	lastCalls = append(lastCalls, call{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Path:      r.URL.Path,
		RequestID: req.RequestID,
		Inputs:    len(req.Inputs),
	})
	if len(lastCalls) > maxStored {
		lastCalls = lastCalls[len(lastCalls)-maxStored:]
	}
	current := count
	mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	outputs := make([]map[string]any, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		out := map[string]any{"errorCode": "0", "errorMessage": ""}
		for k, v := range in {
			out[k] = v
		}
		if in["action"] == "fail" {
			out["errorCode"] = "1"
			out["errorMessage"] = "requested failure"
		}
		outputs = append(outputs, out)
	}

	log.Printf("call #%d: %s request=%s inputs=%d", current, r.URL.Path, req.RequestID, len(req.Inputs))
	writeJSON(w, http.StatusOK, map[string]any{
		"resultCode":    "0",
		"resultMessage": "success",
		"results":       map[string]any{"outputs": outputs},
	})
}

// fetchHandler resolves every expression to a single value derived from
// the root entity.
func fetchHandler(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ERROR", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "OK",
		"message": "Success",
		"data":    []string{req.RootDataID + "/" + req.DataModelExpression},
	})
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:     count,
		LastCalls: lastCalls,
		Since:     since.Format(time.RFC3339),
	}
	mu.Unlock()

	writeJSON(w, http.StatusOK, s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

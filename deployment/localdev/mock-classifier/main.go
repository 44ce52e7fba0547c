// mock-classifier is a local stand-in for the remote classification service
// and the chat webhook, so the sentinel can run end to end on a laptop.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

type classifyRequest struct {
	Text string `json:"text"`
}

type categoryResponse struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type sentimentResponse struct {
	Score      float64 `json:"score"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

var categoryKeywords = map[string][]string{
	"vpn":      {"vpn", "リモート接続"},
	"accounts": {"password", "パスワード", "login", "ログイン"},
	"expense":  {"経費", "expense", "精算"},
	"reports":  {"週報", "日報", "report"},
}

func main() {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/classify/category", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeText(w, r)
		if !ok {
			return
		}
		lowered := strings.ToLower(req.Text)
		for category, keywords := range categoryKeywords {
			for _, kw := range keywords {
				if strings.Contains(lowered, kw) {
					writeJSON(w, categoryResponse{Category: category, Confidence: 0.9})
					return
				}
			}
		}
		writeJSON(w, categoryResponse{Category: "other", Confidence: 0.4})
	})

	mux.HandleFunc("/api/v1/classify/sentiment", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeText(w, r)
		if !ok {
			return
		}
		score := 0.0
		lowered := strings.ToLower(req.Text)
		for _, marker := range []string{"つらい", "しんどい", "無理", "terrible", "frustrated"} {
			if strings.Contains(lowered, marker) {
				score -= 0.3
			}
		}
		for _, marker := range []string{"ありがとう", "thanks", "great", "helpful"} {
			if strings.Contains(lowered, marker) {
				score += 0.3
			}
		}
		if score < -1 {
			score = -1
		}
		if score > 1 {
			score = 1
		}
		label := "neutral"
		if score < 0 {
			label = "negative"
		} else if score > 0 {
			label = "positive"
		}
		writeJSON(w, sentimentResponse{Score: score, Label: label, Confidence: 0.7})
	})

	// Chat webhook sink: log what the sentinel would post.
	mux.HandleFunc("/hooks/chat", func(w http.ResponseWriter, r *http.Request) {
		var msg struct {
			Target string `json:"target"`
			Text   string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("chat %s: %s", msg.Target, msg.Text)
		w.WriteHeader(http.StatusOK)
	})

	addr := ":8000"
	log.Printf("mock classifier listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func decodeText(w http.ResponseWriter, r *http.Request) (classifyRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return classifyRequest{}, false
	}
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return classifyRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

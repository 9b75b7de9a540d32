package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"tokenlink.org/internal/registry"
)

func main() {
	base := os.Getenv("TOKENLINK_API_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 5 * time.Second}

	admin := createIdentity(client, base)
	alice := createIdentity(client, base)
	bob := createIdentity(client, base)

	var authTok registry.Token
	post(client, base+"/v1/tokens", map[string]any{
		"source_id":         admin.Value,
		"target_id":         admin.Value,
		"ttl_seconds":       3600,
		"relationship_type": "authorization",
	}, &authTok)

	var follow registry.Token
	post(client, base+"/v1/links", map[string]any{
		"follower_id":      alice.Value,
		"followee_id":      bob.Value,
		"authorizer_token": authTok.Value,
	}, &follow)

	if follow.Source != alice.Value || follow.Target != bob.Value {
		log.Fatalf("wrong follow edge: %s -> %s", follow.Source, follow.Target)
	}
	if follow.Metadata["authorized_by"] != admin.Value {
		log.Fatalf("provenance mismatch: %v", follow.Metadata["authorized_by"])
	}

	var targets struct {
		Items []string `json:"items"`
	}
	get(client, base+"/v1/links/targets?source="+alice.Value, &targets)
	if len(targets.Items) != 1 || targets.Items[0] != bob.Value {
		log.Fatalf("unexpected targets: %v", targets.Items)
	}

	var st registry.Stats
	get(client, base+"/v1/stats", &st)
	if st.Identities < 3 || st.ActiveTokens < 2 {
		log.Fatalf("unexpected stats: %+v", st)
	}

	fmt.Printf("✅ tokenlink smoke test passed: follow=%s\n", follow.Value)
}

func createIdentity(client *http.Client, base string) registry.Identity {
	var id registry.Identity
	post(client, base+"/v1/identities", map[string]any{"category": "user"}, &id)
	return id
}

func post(client *http.Client, url string, body, out any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("post %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatalf("decode %s: %v", url, err)
	}
}

func get(client *http.Client, url string, out any) {
	resp, err := client.Get(url)
	if err != nil {
		log.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatalf("decode %s: %v", url, err)
	}
}

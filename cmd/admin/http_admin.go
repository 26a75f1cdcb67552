package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"townlet.ai/internal/protocol"
)

// stateCmd prints the observer STATE of a running townsim.
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "townsim base url")
	raw := fs.Bool("json", false, "print the raw STATE document")
	_ = fs.Parse(args)

	endpoint := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/observer/state"
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e protocol.ErrorMsg
		_ = json.NewDecoder(resp.Body).Decode(&e)
		fmt.Fprintf(os.Stderr, "state: %s %s %s\n", resp.Status, e.Code, e.Message)
		os.Exit(1)
	}
	var st protocol.StateMsg
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fmt.Fprintln(os.Stderr, "decode state:", err)
		os.Exit(1)
	}
	if *raw {
		out, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Printf("run=%s tick=%d agents=%d\n", st.RunID, st.Tick, st.Agents)
	fmt.Printf("queue cooldowns=%d ghost_steps=%d rotations=%d failed_releases=%d\n",
		st.Queue.CooldownEvents, st.Queue.GhostStepEvents, st.Queue.RotationEvents, st.Queue.FailedReleases)
	fmt.Printf("slots in_use=%d allocations=%d forced_reuse=%d rate=%.4f warning=%v\n",
		st.Slots.InUse, st.Slots.AllocationsTotal, st.Slots.ForcedReuseCount, st.Slots.ForcedReuseRate, st.Slots.ReuseWarning)
}

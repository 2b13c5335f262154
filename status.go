package orm

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/medatechnology/goutil/print"
	"github.com/medatechnology/goutil/timedate"
)

// StatusStruct is what an engine reports about its connection. Fields that do
// not apply to an engine stay empty.
type StatusStruct struct {
	URL        string        `json:"url,omitempty"          db:"url"`         // URL (host + port), credentials removed
	Version    string        `json:"version,omitempty"      db:"version"`     // version of the DBMS
	DBMS       string        `json:"dbms,omitempty"         db:"dbms"`        // engine name
	DBMSDriver string        `json:"dbms_driver,omitempty"  db:"dbms_driver"` // database/sql or client driver
	StartTime  time.Time     `json:"start_time,omitempty"   db:"start_time"`  // when Connect succeeded
	Uptime     time.Duration `json:"uptime,omitempty"       db:"uptime"`
	DBSize     int64         `json:"db_size,omitempty"      db:"db_size"` // if applicable
	NodeID     string        `json:"node_id,omitempty"      db:"node_id"` // DBMS node ID, was rqlite node_id from status
	IsLeader   bool          `json:"is_leader,omitempty"    db:"is_leader"`
	Leader     string        `json:"leader,omitempty"       db:"leader"` // complete address (including protocol, ie: https://...)
	Mode       string        `json:"mode,omitempty"         db:"mode"`   // options are r, w, or rw
	Nodes      int           `json:"nodes,omitempty"        db:"nodes"`  // total number of nodes in the cluster
	NodeNumber int           `json:"node_number,omitempty"  db:"node_number"`
	MaxPool    int           `json:"max_pool,omitempty"     db:"max_pool"`
	TxState    string        `json:"tx_state,omitempty"     db:"tx_state"`
}

// NodeStatusStruct is a StatusStruct plus the peers of a clustered engine.
type NodeStatusStruct struct {
	StatusStruct
	Peers map[int]StatusStruct // all peers including the leader
}

// PrintPretty writes the status as aligned "label: value" lines, skipping
// empty values. Mainly for the CLI and debugging.
func (s *StatusStruct) PrintPretty(w io.Writer, indent, title string) {
	if title == "" {
		title = "Status"
	}
	fmt.Fprintln(w, indent+title+":")
	uptime := timedate.DurationUptimeShort(s.Uptime)
	if uptime == "" {
		uptime = "less than a minute"
	}
	start := ""
	if !s.StartTime.IsZero() {
		start = s.StartTime.Format("2006-01-02 15:04:05")
	}
	fields := []struct {
		label string
		value string
	}{
		{"DBMS", s.DBMS},
		{"Driver", s.DBMSDriver},
		{"URL", s.URL},
		{"Version", s.Version},
		{"Start Time", start},
		{"Uptime", uptime},
		{"DB Size", print.BytesToHumanReadable(s.DBSize, " ")},
		{"Node ID", s.NodeID},
		{"Is Leader", fmt.Sprintf("%t", s.IsLeader)},
		{"Leader", s.Leader},
		{"Mode", s.Mode},
		{"Nodes", fmt.Sprintf("%d", s.Nodes)},
		{"Max Pool", fmt.Sprintf("%d", s.MaxPool)},
		{"Transaction", s.TxState},
	}

	maxLabelLength := 0
	for _, field := range fields {
		if len(field.label) > maxLabelLength {
			maxLabelLength = len(field.label)
		}
	}

	for _, field := range fields {
		switch field.value {
		case "", "0", "0 B", "false", "less than a minute":
			continue
		}
		fmt.Fprintf(w, "%s  %-*s: %s\n", indent, maxLabelLength, field.label, field.value)
	}
}

// PrintPretty writes the node status followed by each peer, in node order.
func (s *NodeStatusStruct) PrintPretty(w io.Writer) {
	s.StatusStruct.PrintPretty(w, "", "Status")
	keys := make([]int, 0, len(s.Peers))
	for k := range s.Peers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		p := s.Peers[k]
		if p.URL != s.URL {
			p.PrintPretty(w, "  ", fmt.Sprintf("Peer %d", k))
		}
	}
}

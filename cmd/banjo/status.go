package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banjo-dev/banjo/internal/discovery"
)

type daemonStatus struct {
	Lockfile    string `json:"lockfile"`
	Port        int    `json:"port"`
	PID         int    `json:"pid,omitempty"`
	URL         string `json:"url"`
	Running     bool   `json:"running"`
	Version     string `json:"version,omitempty"`
	Connections int    `json:"connections"`
	Sessions    int    `json:"sessions"`
}

func statusCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon serving this project",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir()
			if err != nil {
				return err
			}
			path, lock, err := discovery.FindLockfile(dir)
			if err != nil {
				return err
			}

			st := probeStatus(path, lock)
			printStatus(st)
			if !watch {
				if !st.Running {
					return fmt.Errorf("daemon on port %d is not responding", lock.Port)
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return discovery.Watch(ctx, path, func(lock discovery.Lock, present bool) {
				if !present {
					printStatus(daemonStatus{Lockfile: path})
					return
				}
				printStatus(probeStatus(path, lock))
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and report lockfile changes")
	return cmd
}

func probeStatus(path string, lock discovery.Lock) daemonStatus {
	st := daemonStatus{
		Lockfile: path,
		Port:     lock.Port,
		PID:      lock.PID,
		URL:      discovery.URL(lock.Port),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:"+strconv.Itoa(lock.Port)+"/healthz", nil)
	if err != nil {
		return st
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return st
	}
	defer resp.Body.Close()

	var health struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		Connections int    `json:"connections"`
		Sessions    int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return st
	}
	st.Running = health.Status == "ok"
	st.Version = health.Version
	st.Connections = health.Connections
	st.Sessions = health.Sessions
	return st
}

func printStatus(st daemonStatus) {
	if flagJSON {
		data, _ := json.Marshal(st)
		fmt.Println(string(data))
		return
	}
	if st.Port == 0 {
		fmt.Printf("no daemon (%s removed)\n", st.Lockfile)
		return
	}
	state := "not responding"
	if st.Running {
		state = "running"
	}
	fmt.Printf("Daemon:      %s\n", state)
	fmt.Printf("URL:         %s\n", st.URL)
	if st.PID != 0 {
		fmt.Printf("PID:         %d\n", st.PID)
	}
	if st.Version != "" {
		fmt.Printf("Version:     %s\n", st.Version)
	}
	if st.Running {
		fmt.Printf("Connections: %d\n", st.Connections)
		fmt.Printf("Sessions:    %d\n", st.Sessions)
	}
	fmt.Printf("Lockfile:    %s\n", st.Lockfile)
}

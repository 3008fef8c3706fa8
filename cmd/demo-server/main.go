package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	mem "taskquest/adapters/memory"
	ws "taskquest/adapters/websocket"
	"taskquest/catalog"
	"taskquest/core"
	"taskquest/engine"
	"taskquest/realtime"
)

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(textHandler))

	ctx := context.Background()
	store := mem.New()
	bus := engine.NewEventBus(engine.DispatchAsync)
	svc := engine.NewUnlockService(store, catalog.Default(), bus)
	hub := realtime.NewHub()

	// Forward unlock engine events to WebSocket clients
	bus.Subscribe(core.EventTaskCompleted, func(ctx context.Context, e core.Event) { hub.Broadcast(ctx, e) })
	bus.Subscribe(core.EventPointsCredited, func(ctx context.Context, e core.Event) { hub.Broadcast(ctx, e) })
	bus.Subscribe(core.EventAchievementUnlocked, func(ctx context.Context, e core.Event) { hub.Broadcast(ctx, e) })

	http.Handle("/ws", ws.Handler(hub))
	http.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
		// routes: POST /users/{id}, /users/{id}/login, /users/{id}/tasks?category=&points=,
		// /users/{id}/achievements/check, GET /users/{id}, /users/{id}/achievements
		parts := split(r.URL.Path, '/')
		if len(parts) < 2 {
			http.NotFound(w, r)
			return
		}
		user := core.UserID(parts[1])
		switch r.Method {
		case http.MethodPost:
			if len(parts) == 2 {
				err := store.CreateUser(ctx, user)
				writeJSON(w, map[string]any{"ok": err == nil, "err": errString(err)})
				return
			}
			if len(parts) == 3 && parts[2] == "login" {
				res, err := svc.RecordLogin(ctx, user)
				writeJSON(w, map[string]any{"result": res, "err": errString(err)})
				return
			}
			if len(parts) == 3 && parts[2] == "tasks" {
				points, _ := strconv.ParseInt(r.URL.Query().Get("points"), 10, 64)
				res, err := svc.CompleteTask(ctx, user, r.URL.Query().Get("category"), points)
				writeJSON(w, map[string]any{"result": res, "err": errString(err)})
				return
			}
			if len(parts) == 4 && parts[2] == "achievements" && parts[3] == "check" {
				res, err := svc.Check(ctx, user)
				writeJSON(w, map[string]any{"result": res, "err": errString(err)})
				return
			}
		case http.MethodGet:
			if len(parts) == 3 && parts[2] == "achievements" {
				items, err := svc.GetUserProgress(ctx, user)
				if err != nil {
					http.Error(w, err.Error(), 500)
					return
				}
				writeJSON(w, items)
				return
			}
			snap, err := svc.GetSnapshot(ctx, user)
			if err != nil {
				http.Error(w, err.Error(), 500)
				return
			}
			writeJSON(w, snap)
			return
		}
		http.NotFound(w, r)
	})

	slog.Info("starting demo server on :8080")

	if err := http.ListenAndServe(":8080", nil); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func errString(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}

func split(p string, sep rune) []string {
	var parts []string
	current := make([]rune, 0, len(p))

	for _, r := range p {
		if r == sep {
			if len(current) > 0 {
				parts = append(parts, string(current))
				current = current[:0]
			}
			continue
		}
		current = append(current, r)
	}

	if len(current) > 0 {
		parts = append(parts, string(current))
	}

	return parts
}

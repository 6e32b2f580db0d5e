package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stepflow/pkg/api"
	"stepflow/pkg/db"
	"stepflow/pkg/executor"
	"stepflow/pkg/orchestrator"
	"stepflow/pkg/scheduler"
	"stepflow/pkg/store"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	token := flag.String("token", "", "bootstrap auth token (used when MySQL auth is not configured)")
	storeType := flag.String("store", "memory", "store backend: memory|sqlite|consul (consul requires build tag consul)")
	sqlitePath := flag.String("sqlite-path", "/var/lib/stepflow/state.db", "sqlite database path (when store=sqlite)")
	consulAddr := flag.String("consul-addr", "127.0.0.1:8500", "consul address (when store=consul)")
	pollInterval := flag.Duration("poll-interval", 30*time.Second, "scheduled job poll interval")
	meetingInterval := flag.Duration("meeting-interval", time.Minute, "meeting status poll interval")
	bestEffort := flag.Bool("best-effort", false, "keep tasks running when a substep fails instead of failing the task")
	withMySQL := flag.Bool("mysql", false, "enable MySQL-backed user auth (register/login endpoints)")
	tlsCert := flag.String("tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	clientCA := flag.String("client-ca", "", "require and verify client certs using this CA (optional)")
	flag.Parse()

	var taskStore store.TaskStore
	switch *storeType {
	case "memory":
		taskStore = store.NewMemoryStore()
	case "sqlite":
		st, err := store.NewSQLiteStore(*sqlitePath)
		if err != nil {
			log.Fatalf("sqlite store init failed: %v", err)
		}
		defer st.Close()
		taskStore = st
	case "consul":
		taskStore = store.NewConsulStore(*consulAddr)
	default:
		log.Fatalf("unsupported store type: %s", *storeType)
	}

	hub := api.NewWSHub()
	exec := executor.NewDefault(executor.SMTPFromEnv(), 2*time.Minute)

	orchOpts := []orchestrator.Option{orchestrator.WithNotifier(hub)}
	if *bestEffort {
		orchOpts = append(orchOpts, orchestrator.WithBestEffort())
	}
	orch := orchestrator.New(taskStore, exec, orchOpts...)

	sched := scheduler.New(taskStore, orch, exec, scheduler.Config{
		PollInterval:    *pollInterval,
		MeetingInterval: *meetingInterval,
	})
	sched.Start()
	defer sched.Stop()

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, taskStore)
	mux.HandleFunc("/ws", hub.HandleClientWS)

	authFn := api.AuthFuncToken(*token)
	if *withMySQL {
		gdb, err := db.Init()
		if err != nil {
			log.Fatalf("mysql init failed: %v", err)
		}
		(&api.AuthHandler{DB: gdb}).RegisterRoutes(mux)
		authFn = api.AuthFuncJWT
	}
	api.RegisterTaskRoutes(mux, &api.TaskHandler{Orch: orch, Sched: sched}, authFn)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("stepflow listening on %s (store=%s)", *addr, *storeType)
		var err error
		if *tlsCert != "" && *tlsKey != "" {
			if *clientCA != "" {
				cfg, errTLS := api.ServerTLSConfig(*tlsCert, *tlsKey, *clientCA)
				if errTLS != nil {
					log.Fatalf("failed to build TLS config: %v", errTLS)
				}
				srv.TLSConfig = cfg
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
			}
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	sched.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/model"
	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook submission server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		mux.HandleFunc("POST /webhook/submissions", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				PurchaseOrders []model.PurchaseOrderRef `json:"purchase_orders"`
				InvoiceBase64  string                   `json:"invoice_base64"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}

			var payload []byte
			if req.InvoiceBase64 != "" {
				// Tolerate data-URI prefixes from upstream form handlers.
				raw := req.InvoiceBase64
				if idx := strings.IndexByte(raw, ','); idx >= 0 && strings.HasPrefix(raw, "data:") {
					raw = raw[idx+1:]
				}
				decoded, decErr := base64.StdEncoding.DecodeString(raw)
				if decErr != nil {
					http.Error(w, `{"error":"invoice_base64 is not valid base64"}`, http.StatusBadRequest)
					return
				}
				payload = decoded
			}

			rec := &model.InvoiceRecord{
				PurchaseOrders: req.PurchaseOrders,
				InvoicePayload: payload,
			}
			if err := env.Store.Insert(r.Context(), rec); err != nil {
				zap.L().Error("webhook insert failed", zap.Error(err))
				http.Error(w, `{"error":"could not persist submission"}`, http.StatusInternalServerError)
				return
			}

			zap.L().Info("submission received",
				zap.String("record_id", rec.ID),
				zap.Int("purchase_orders", len(rec.PurchaseOrders)),
				zap.Bool("has_invoice", rec.HasInvoice()),
			)
			writeJSON(w, http.StatusCreated, map[string]string{
				"id":     rec.ID,
				"status": string(rec.Status),
			})
		})

		mux.HandleFunc("GET /records/{id}/status", func(w http.ResponseWriter, r *http.Request) {
			status, err := env.Coordinator.StatusOf(r.Context(), r.PathValue("id"))
			if err != nil {
				if eris.Is(err, store.ErrNotFound) {
					http.Error(w, `{"error":"record not found"}`, http.StatusNotFound)
					return
				}
				zap.L().Error("status lookup failed", zap.Error(err))
				http.Error(w, `{"error":"lookup failed"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{
				"id":     r.PathValue("id"),
				"status": string(status),
			})
		})

		mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
			stats, err := env.Coordinator.Stats(r.Context())
			if err != nil {
				zap.L().Error("stats query failed", zap.Error(err))
				http.Error(w, `{"error":"stats unavailable"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			// The signal context is already canceled; the drain needs
			// its own deadline.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown failed", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

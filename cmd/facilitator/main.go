// Command facilitator runs an x402 facilitator service exposing the
// /supported, /verify and /settle routes over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	x402 "github.com/qntx/x402"
	"github.com/qntx/x402/internal/config"
	x402evm "github.com/qntx/x402/mechanisms/evm"
	evmfacilitator "github.com/qntx/x402/mechanisms/evm/exact/facilitator"
	evmv1 "github.com/qntx/x402/mechanisms/evm/v1"
	svmfacilitator "github.com/qntx/x402/mechanisms/svm/exact/facilitator"
	evmsigner "github.com/qntx/x402/signers/evm"
	svmsigner "github.com/qntx/x402/signers/svm"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.toml", "path to TOML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Printf("facilitator: %v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	facilitator, err := buildFacilitator(cfg)
	if err != nil {
		return err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, facilitator)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("facilitator: listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Printf("facilitator: received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Printf("facilitator: shutdown complete")
	return nil
}

// buildFacilitator wires one scheme mechanism per configured chain and
// probes chain health where the configuration asks for it.
func buildFacilitator(cfg *config.Config) (*x402.X402Facilitator, error) {
	facilitator := x402.Newx402Facilitator()

	svmNetworks := make(map[string]svmsigner.NetworkConfig)
	registered := 0

	for chainName, chain := range cfg.Chains {
		switch {
		case strings.HasPrefix(chainName, "eip155:"):
			signer, err := evmsigner.NewFacilitatorSigner(evmsigner.FacilitatorConfig{
				RPCURL:          chain.RPCURL,
				FallbackRPCURLs: chain.FallbackRPCURLs,
				PrivateKeys:     chain.SignerPrivateKeys,
				ReceiptTimeout:  time.Duration(chain.ReceiptTimeoutSecs) * time.Second,
				EIP1559:         chain.EIP1559,
			})
			if err != nil {
				return nil, fmt.Errorf("chain %s: %w", chainName, err)
			}

			if chain.HealthCheck {
				ctx, cancel := context.WithTimeout(context.Background(), time.Duration(chain.TimeoutSeconds)*time.Second)
				_, err := signer.GetChainID(ctx)
				cancel()
				if err != nil {
					return nil, fmt.Errorf("chain %s: health probe failed: %w", chainName, err)
				}
			}

			scheme := evmfacilitator.NewExactEvmSchemeWithConfig(signer, x402evm.ExactEvmSchemeConfig{
				DeployERC4337WithEIP6492: cfg.DeployERC4337WithEIP6492,
			})
			facilitator.Register(x402.Network(chainName), scheme)
			facilitator.RegisterV1(x402.Network(chainName), evmv1.NewExactEvmFacilitatorWithConfig(signer, x402evm.ExactEvmSchemeConfig{
				DeployERC4337WithEIP6492: cfg.DeployERC4337WithEIP6492,
			}))
			registered++

		case strings.HasPrefix(chainName, "solana:"):
			svmNetworks[chainName] = svmsigner.NetworkConfig{
				RPCURL:      chain.RPCURL,
				PrivateKeys: chain.SignerPrivateKeys,
			}

		default:
			return nil, fmt.Errorf("chain %s: unsupported namespace", chainName)
		}
	}

	if len(svmNetworks) > 0 {
		signer, err := svmsigner.NewFacilitatorSigner(svmsigner.FacilitatorConfig{
			Networks: svmNetworks,
		})
		if err != nil {
			return nil, err
		}
		scheme := svmfacilitator.NewExactSvmScheme(signer)
		for chainName := range svmNetworks {
			facilitator.Register(x402.Network(chainName), scheme)
			registered++
		}
	}

	if registered == 0 {
		return nil, fmt.Errorf("no chains configured")
	}
	return facilitator, nil
}

// paymentRequest is the envelope for /verify and /settle bodies.
type paymentRequest struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

func registerRoutes(router *gin.Engine, facilitator *x402.X402Facilitator) {
	router.GET("/supported", func(c *gin.Context) {
		supported, err := facilitator.GetSupported(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, supported)
	})

	router.POST("/verify", func(c *gin.Context) {
		requestID := uuid.NewString()

		var req paymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if len(req.PaymentPayload) == 0 || len(req.PaymentRequirements) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "paymentPayload and paymentRequirements are required"})
			return
		}

		response, err := facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			log.Printf("verify %s: error: %v", requestID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Printf("verify %s: isValid=%t reason=%s", requestID, response.IsValid, response.InvalidReason)
		status := http.StatusOK
		if !response.IsValid && response.InvalidReason == x402.ReasonUnsupportedScheme {
			status = http.StatusNotFound
		}
		c.JSON(status, response)
	})

	router.POST("/settle", func(c *gin.Context) {
		requestID := uuid.NewString()

		var req paymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if len(req.PaymentPayload) == 0 || len(req.PaymentRequirements) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "paymentPayload and paymentRequirements are required"})
			return
		}

		response, err := facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			log.Printf("settle %s: error: %v", requestID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Printf("settle %s: success=%t tx=%s", requestID, response.Success, response.Transaction)
		status := http.StatusOK
		if !response.Success && response.ErrorReason == x402.ReasonUnsupportedScheme {
			status = http.StatusNotFound
		}
		c.JSON(status, response)
	})
}

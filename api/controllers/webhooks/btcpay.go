package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/blockwearhq/blockwear-backend/api/responses"
	btcpaywebhook "github.com/blockwearhq/blockwear-backend/internal/webhooks/btcpay"
	pkgerrors "github.com/blockwearhq/blockwear-backend/pkg/errors"
	"github.com/blockwearhq/blockwear-backend/pkg/logger"
)

const btcpaySigPrefix = "sha256="

type BTCPayWebhookService interface {
	HandleEvent(ctx context.Context, event *btcpaywebhook.Event) error
}

// SigningSecretSource exposes the provider webhook secret.
type SigningSecretSource interface {
	SigningSecret() string
}

// BTCPayWebhook handles BTCPay invoice lifecycle deliveries. The body is
// authenticated with the store's webhook HMAC before anything is decoded;
// deduplication is left to the reconciler, which treats redeliveries as
// no-ops.
func BTCPayWebhook(svc BTCPayWebhookService, client SigningSecretSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "btcpay client unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := strings.TrimSpace(r.Header.Get("BTCPay-Sig"))
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "btcpay signature missing"))
			return
		}
		if !validateBTCPaySignature(payload, client.SigningSecret(), sigHeader) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid btcpay signature"))
			return
		}

		var event btcpaywebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("btcpay event %s (%s) processed", event.DeliveryID, event.Type))
		}
		responses.WriteSuccess(w, nil)
	}
}

func validateBTCPaySignature(payload []byte, secret, header string) bool {
	if secret == "" || !strings.HasPrefix(header, btcpaySigPrefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := btcpaySigPrefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

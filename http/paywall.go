package http

import (
	"encoding/json"
	"html/template"
	"log"
	"net/http"

	x402 "github.com/qntx/x402"
)

// PaywallConfig customizes the HTML page served to browser clients that hit
// a protected route without a payment header.
type PaywallConfig struct {
	// AppName appears in the page title and heading.
	AppName string

	// AppLogo is an optional logo URL.
	AppLogo string

	// Testnet renders a testnet notice on the page.
	Testnet bool
}

// paywallPage is the template data for the built-in paywall.
type paywallPage struct {
	AppName    string
	AppLogo    string
	Testnet    bool
	AmountText string
	// ChallengeJSON is the PaymentRequired challenge, embedded so wallet
	// scripts can build the payment client-side.
	ChallengeJSON template.JS
}

var paywallTemplate = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{if .AppName}}{{.AppName}} - {{end}}Payment Required</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;justify-content:center;align-items:center;min-height:100vh;margin:0;background:#f7f7f8}
.card{background:#fff;border-radius:12px;box-shadow:0 1px 4px rgba(0,0,0,.1);padding:2.5rem;max-width:28rem;text-align:center}
.card img{max-height:48px;margin-bottom:1rem}
h1{font-size:1.25rem;margin:0 0 .5rem}
p{color:#555;margin:.25rem 0}
.testnet{color:#b45309;font-size:.85rem;margin-top:1rem}
</style>
</head>
<body>
<div class="card">
{{if .AppLogo}}<img src="{{.AppLogo}}" alt="">{{end}}
<h1>Payment Required</h1>
<p>This resource requires a payment of {{.AmountText}}.</p>
<p>Retry the request with an x402-enabled client to pay programmatically.</p>
{{if .Testnet}}<p class="testnet">Test network: no real funds move.</p>{{end}}
</div>
<script>window.x402 = {{.ChallengeJSON}};</script>
</body>
</html>
`))

// Serve writes the paywall page for the given challenge.
func (c *PaywallConfig) Serve(w http.ResponseWriter, required x402.PaymentRequired) {
	challenge, err := json.Marshal(required)
	if err != nil {
		http.Error(w, "Payment required", http.StatusPaymentRequired)
		return
	}

	amountText := "tokens"
	if len(required.Accepts) > 0 {
		first := required.Accepts[0]
		amountText = first.Amount + " base units on " + string(first.Network)
	}

	if encoded, err := EncodePaymentRequiredHeader(required); err == nil {
		w.Header().Set(HeaderPaymentRequired, encoded)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusPaymentRequired)

	page := paywallPage{
		AppName:       c.AppName,
		AppLogo:       c.AppLogo,
		Testnet:       c.Testnet,
		AmountText:    amountText,
		ChallengeJSON: template.JS(challenge),
	}
	if err := paywallTemplate.Execute(w, page); err != nil {
		log.Printf("x402: failed to render paywall: %v", err)
	}
}

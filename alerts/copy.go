package alerts

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"stock-sentinel/models"
)

// Alert is one fully rendered alert ready for email delivery.
type Alert struct {
	ID              uuid.UUID
	Ticker          string
	TemplateID      string
	TemplateName    string
	Headline        string
	WhatChanged     string
	WhyItMatters    string
	BeforeVsNow     string
	WhatDidntChange string
	Strength        float64
	Timestamp       time.Time
}

type templateCopy struct {
	headline        string
	whyMatters      string
	whatDidntChange string
}

// templateCatalogueCopy holds the editorial framing for each template.
var templateCatalogueCopy = map[string]templateCopy{
	"T1": {
		headline: "Bullish trend entry — crossed above 200-day MA",
		whyMatters: "• Major trend shifts can signal the start of new price momentum\n" +
			"• This is the first cross in recent periods, suggesting a potential regime change\n" +
			"• Historically, sustained moves above the 200-day MA indicate bullish trends",
		whatDidntChange: "• This is a technical signal, not a fundamental business change\n" +
			"• Company financials and operations remain the same\n" +
			"• Consider this alongside your investment thesis and risk tolerance",
	},
	"T2": {
		headline: "Bearish trend risk — crossed below 200-day MA",
		whyMatters: "• Price broke below long-term support, indicating potential downtrend\n" +
			"• This crossover often precedes extended weakness\n" +
			"• May be time to reassess position sizing and risk management",
		whatDidntChange: "• This is a technical signal reflecting price action\n" +
			"• Underlying business fundamentals may still be strong\n" +
			"• Consider whether this aligns with your investment timeframe",
	},
	"T3": {
		headline: "Pullback to support — potential add opportunity",
		whyMatters: "• Price pullbacks in uptrends can offer lower-risk entry points\n" +
			"• Stock remains above long-term trend (200-day MA)\n" +
			"• Historical pullbacks to 50-day MA often resolve upward in bull trends",
		whatDidntChange: "• Overall uptrend remains intact\n" +
			"• This is a tactical observation, not a fundamental shift\n" +
			"• Consider your average cost and position sizing",
	},
	"T4": {
		headline: "Extended above trend — potential trim consideration",
		whyMatters: "• Price significantly above moving average suggests short-term overextension\n" +
			"• Historically, such extensions often lead to consolidation or pullbacks\n" +
			"• May be an opportunity to rebalance or take partial profits",
		whatDidntChange: "• Uptrend remains valid\n" +
			"• This is about position management, not a sell signal\n" +
			"• Strong momentum can persist longer than expected",
	},
	"T5": {
		headline: "Value + Momentum combo — cheap with bullish trend",
		whyMatters: "• Combining low valuation with positive trend offers asymmetric risk/reward\n" +
			"• Stock trading at attractive multiple while price momentum is positive\n" +
			"• This combination historically outperforms single-factor approaches",
		whatDidntChange: "• Valuation is just one lens on the business\n" +
			"• Cheap stocks can stay cheap if fundamentals deteriorate\n" +
			"• Consider the quality of the business and competitive position",
	},
	"T6": {
		headline: "Expensive + Extended — potential risk zone",
		whyMatters: "• High valuation combined with price extension suggests elevated risk\n" +
			"• Market pricing in optimistic assumptions\n" +
			"• Historical patterns show this combo precedes corrections",
		whatDidntChange: "• Strong businesses can maintain premium valuations\n" +
			"• This is a risk signal, not a mandatory sell\n" +
			"• Consider your conviction in the business case",
	},
	"T7": {
		headline: "Historically cheap — valuation in bottom 20%",
		whyMatters: "• EV/EBITDA in lowest quintile of 5-year range\n" +
			"• Market pricing in below-average expectations\n" +
			"• Historical mean reversion suggests upside potential",
		whatDidntChange: "• Low valuation doesn't guarantee recovery\n" +
			"• Check if there are structural reasons for the discount",
	},
	"T8": {
		headline: "Historically expensive — valuation in top 20%",
		whyMatters: "• EV/EBITDA in highest quintile of 5-year range\n" +
			"• Market pricing in above-average expectations\n" +
			"• Leaves less room for disappointment",
		whatDidntChange: "• Great companies can justify premium valuations\n" +
			"• Consider if growth narrative is still intact",
	},
	"T9": {
		headline: "Fair value — trading at historical median",
		whyMatters: "• Valuation near 5-year median suggests balanced pricing\n" +
			"• Neither obvious bargain nor expensive\n" +
			"• Good baseline for monitoring future changes",
		whatDidntChange: "• This is informational, not actionable\n" +
			"• Fair value is a starting point, not a recommendation\n" +
			"• Focus on business trajectory and competitive dynamics",
	},
	"T10": {
		headline: "Uptrend + Cheap — bullish technical + attractive valuation",
		whyMatters: "• Strong combination: price momentum with valuation support\n" +
			"• Uptrend confirms market recognition while valuation offers margin of safety\n" +
			"• This dual confirmation can indicate sustainable moves",
		whatDidntChange: "• Both factors can reverse independently\n" +
			"• Technical + value doesn't guarantee success\n" +
			"• Consider fundamentals and business quality as well",
	},
}

// BuildAlert renders a trigger into the email-ready alert, pulling editorial
// copy for the template and formatting the numeric reasons.
func BuildAlert(trigger models.Trigger, now time.Time) Alert {
	reasons := trigger.Reasons()
	meta, ok := templateCatalogueCopy[trigger.TemplateID]
	if !ok {
		meta = templateCopy{
			headline:        trigger.TemplateName,
			whyMatters:      "This pattern has triggered.",
			whatDidntChange: "This is a technical signal.",
		}
	}

	return Alert{
		ID:              uuid.New(),
		Ticker:          trigger.Ticker,
		TemplateID:      trigger.TemplateID,
		TemplateName:    trigger.TemplateName,
		Headline:        meta.headline,
		WhatChanged:     formatWhatChanged(trigger.TemplateID, reasons),
		WhyItMatters:    meta.whyMatters,
		BeforeVsNow:     formatBeforeVsNow(trigger.TemplateID, reasons),
		WhatDidntChange: meta.whatDidntChange,
		Strength:        trigger.Strength,
		Timestamp:       now,
	}
}

func formatWhatChanged(templateID string, r map[string]float64) string {
	switch templateID {
	case "T1":
		return fmt.Sprintf("• Price crossed above the 200-day moving average\n"+
			"• Previous close: $%.2f (below MA: $%.2f)\n"+
			"• Current close: $%.2f (above MA: $%.2f)",
			r["prev_close"], r["prev_ema_200"], r["close"], r["ema_200"])
	case "T2":
		return fmt.Sprintf("• Price crossed below the 200-day moving average\n"+
			"• Previous close: $%.2f (above MA: $%.2f)\n"+
			"• Current close: $%.2f (below MA: $%.2f)",
			r["prev_close"], r["prev_ema_200"], r["close"], r["ema_200"])
	case "T3":
		return fmt.Sprintf("• Price pulled back to support in an uptrend\n"+
			"• Current price: $%.2f\n"+
			"• Between EMA 50 ($%.2f) and EMA 200 ($%.2f)\n"+
			"• Pullback depth: %.1f%% into support zone",
			r["close"], r["ema_50"], r["ema_200"], r["pullback_depth_pct"])
	case "T4":
		return fmt.Sprintf("• Price significantly extended above moving average\n"+
			"• Current price: $%.2f\n"+
			"• EMA 200: $%.2f\n"+
			"• Extension: %.1f%% above long-term trend",
			r["close"], r["ema_200"], r["extension_pct"])
	case "T5":
		return fmt.Sprintf("• Stock combines cheap valuation with bullish trend\n"+
			"• EV/EBITDA: %.1fx (threshold: <=12x)\n"+
			"• Price: $%.2f (above 200 EMA: $%.2f)\n"+
			"• Dual confirmation: technical + fundamental",
			r["ev_ebitda"], r["close"], r["ema_200"])
	case "T6":
		return fmt.Sprintf("• High valuation combined with price extension\n"+
			"• EV/EBITDA: %.1fx (threshold: >=30x)\n"+
			"• Price: $%.2f\n"+
			"• Extension above 200 EMA: %.1f%%",
			r["ev_ebitda"], r["close"], r["extension_pct"])
	case "T7":
		return fmt.Sprintf("EV/EBITDA: %.1fx (below 20th percentile: %.1fx)", r["ev_ebitda"], r["p20"])
	case "T8":
		return fmt.Sprintf("EV/EBITDA: %.1fx (above 80th percentile: %.1fx)", r["ev_ebitda"], r["p80"])
	case "T9":
		return fmt.Sprintf("EV/EBITDA: %.1fx (median: %.1fx)", r["ev_ebitda"], r["p50_median"])
	case "T10":
		return fmt.Sprintf("EV/EBITDA: %.1fx (below p20: %.1fx)\nEMA 50 ($%.2f) above EMA 200 ($%.2f)",
			r["ev_ebitda"], r["p20"], r["ema_50"], r["ema_200"])
	}

	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, r[k]))
	}
	return "• " + strings.Join(parts, ", ")
}

func formatBeforeVsNow(templateID string, r map[string]float64) string {
	switch templateID {
	case "T1", "T2":
		prevClose := r["prev_close"]
		close := r["close"]
		pct := 0.0
		if prevClose != 0 {
			pct = (close - prevClose) / prevClose * 100
		}
		return fmt.Sprintf("• Previous: $%.2f\n• Current: $%.2f\n• Change: %+.1f%%", prevClose, close, pct)
	case "T3", "T4":
		return fmt.Sprintf("• Current price: $%.2f\n• EMA 50: $%.2f\n• EMA 200: $%.2f",
			r["close"], r["ema_50"], r["ema_200"])
	case "T7", "T8", "T9", "T10":
		// Already covered by the what-changed section.
		return ""
	}

	parts := []string{fmt.Sprintf("• Current price: $%.2f", r["close"])}
	if m, ok := r["ev_ebitda"]; ok && m != 0 {
		parts = append(parts, fmt.Sprintf("• EV/EBITDA: %.1fx", m))
	}
	return strings.Join(parts, "\n")
}

package parser

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/curlys/curlys-books/internal/models"
)

// Dispatcher routes OCR text to the first vendor parser whose Detect
// matches. Registration order is priority order, highest annual spend
// first, with the generic parser last because it always matches.
type Dispatcher struct {
	parsers []Parser
	logger  *zap.Logger
}

// NewDispatcher builds a dispatcher with the full vendor parser set
func NewDispatcher(hstRate decimal.Decimal, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		parsers: []Parser{
			NewGrosnorParser(hstRate, logger),    // $65.4K/yr, sole prop collectibles
			NewCostcoParser(hstRate, logger),     // $47.4K/yr, both entities
			NewGFSParser(hstRate, logger),        // $40.6K/yr, corp food service
			NewPepsiParser(logger),               // corp beverages
			NewSuperstoreParser(hstRate, logger), // grocery top-ups
			NewPharmasaveParser(logger),
			NewWalmartParser(logger),
			NewCanadianTireParser(logger),
			NewGenericParser(hstRate, logger), // must stay last
		},
		logger: logger,
	}
}

// Dispatch parses OCR text with the first matching parser. A parser that
// matches but fails to parse is logged and skipped so a later parser, or
// the generic fallback, still gets a chance.
func (d *Dispatcher) Dispatch(text string, entity models.Entity) (*models.NormalizedReceipt, error) {
	d.logger.Info("Dispatching receipt text",
		zap.Int("text_length", len(text)),
		zap.String("entity", string(entity)))

	for _, p := range d.parsers {
		if !p.Detect(text) {
			continue
		}

		d.logger.Info("Parser matched", zap.String("parser", p.Name()))

		receipt, err := p.Parse(text, entity)
		if err != nil {
			d.logger.Warn("Parser failed, trying next",
				zap.String("parser", p.Name()),
				zap.Error(err))
			continue
		}
		if receipt == nil {
			d.logger.Warn("Parser returned nothing", zap.String("parser", p.Name()))
			continue
		}

		d.logger.Info("Parse succeeded",
			zap.String("parser", p.Name()),
			zap.String("vendor", receipt.VendorGuess),
			zap.Int("lines", len(receipt.Lines)),
			zap.String("total", receipt.Total.StringFixed(2)))

		return receipt, nil
	}

	// unreachable while the generic parser is registered
	return nil, fmt.Errorf("no parser matched receipt text")
}

// DetectVendor identifies which parser would handle the text without
// running a full parse
func (d *Dispatcher) DetectVendor(text string) string {
	for _, p := range d.parsers {
		if p.Detect(text) {
			return p.Name()
		}
	}
	return ""
}

// ParserNames lists registered parsers in priority order
func (d *Dispatcher) ParserNames() []string {
	names := make([]string, 0, len(d.parsers))
	for _, p := range d.parsers {
		names = append(names, p.Name())
	}
	return names
}

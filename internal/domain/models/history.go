package models

import "time"

// History is the aligned daily panel the pipeline reads from.
type History struct {
	Open     *Frame
	High     *Frame
	Low      *Frame
	Close    *Frame
	AdjClose *Frame
	Volume   *Frame
	Meta     map[string]SymbolMeta
	Funds    []Fundamentals
}

func (h *History) Empty() bool {
	return h == nil || h.Close.Empty()
}

func (h *History) Dates() []time.Time {
	if h.Empty() {
		return nil
	}
	return h.Close.Dates
}

func (h *History) Symbols() []string {
	if h.Empty() {
		return nil
	}
	return h.Close.Symbols
}

// Sectors maps every panel symbol to its sector, "Unknown" when absent.
func (h *History) Sectors() map[string]string {
	out := make(map[string]string, len(h.Symbols()))
	for _, s := range h.Symbols() {
		m, ok := h.Meta[s]
		if !ok {
			out[s] = UnknownSector
			continue
		}
		out[s] = m.SectorOrUnknown()
	}
	return out
}

// Betas maps every panel symbol to its beta, 1.0 when unknown.
func (h *History) Betas() map[string]float64 {
	out := make(map[string]float64, len(h.Symbols()))
	for _, s := range h.Symbols() {
		out[s] = h.Meta[s].BetaOrDefault()
	}
	return out
}

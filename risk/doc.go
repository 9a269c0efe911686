// Package risk scores login attempts on a 0..100 scale, where higher means
// riskier. Scores feed the engine's step-up and block thresholds.
//
// [Heuristic] is the built-in deterministic scorer. Any external model can be
// plugged in through [Scorer] or [Func]; wrap it with [WithTimeout] so a slow
// or failing model degrades to a fixed fallback score instead of failing the
// login.
package risk

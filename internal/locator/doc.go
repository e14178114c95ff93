// Package locator finds page elements through ordered fallback strategies.
//
// A Spec names up to four ways to reach the same element: id, visible text,
// link target fragment, and XPath. Find tries them in that order against the
// main document and then every sub-frame, giving each attempt a short
// sub-timeout. Clicker wraps Find with a bounded, fixed-delay retry.
package locator

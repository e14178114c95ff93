// Package browser defines the narrow driver boundary the automation engine
// talks to and a chromedp implementation of it.
//
// The engine never touches chromedp directly. It launches a Session, asks it
// for the active Page, enumerates Frames, and queries Elements using one of
// the Query kinds. Tests substitute the in-memory driver from browsertest.
package browser

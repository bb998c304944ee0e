// Package rawterm puts the controlling terminal into raw mode so
// single keypresses can be read without waiting for enter.
//
// Newlines are always LF. Terminals deal in CR and CRLF, so Getchar
// folds a CR into LF and Putchar expands LF back out.
package rawterm

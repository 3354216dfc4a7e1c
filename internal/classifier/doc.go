// Package classifier maps raised errors to a coarse severity level.
//
// Classification is a pure function of the error message and the context
// hints: rules are evaluated in order Critical, High, Medium and the first
// matching rule wins. Anything unmatched is Low.
package classifier

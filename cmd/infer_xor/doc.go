// Package main loads the weights written by train_xor and scores them on
// freshly drawn XOR samples.
package main

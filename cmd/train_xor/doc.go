// Package main provides a demo program training a go-deep network on noisy
// XOR samples. The samples are split at random into training and validation
// sets (and an optional test set when three split ratios are configured), the
// network is trained through a nuts pipeline and the best weights are kept.
//
//	train_xor --config xor.properties --epochs 50
package main

// Package trainer provides high-level training orchestration for wrapped
// networks. Fit runs the epoch loop over fresh batch streams, scores every
// epoch on the validation batches and keeps the best weights on disk.
package trainer

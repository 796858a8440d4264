package trip

import "context"

// WithOptimisticUpdate applies a tentative local change, runs the remote
// operation and applies revert if it fails. The remote error is returned
// unchanged.
func WithOptimisticUpdate(ctx context.Context, apply, revert func(), remote func(context.Context) error) error {
	apply()
	if err := remote(ctx); err != nil {
		revert()
		return err
	}
	return nil
}

//go:build !(linux && amd64)

package app

func nativeDefaults(*Options) error {
	return ErrUnsupported
}

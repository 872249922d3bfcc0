package kit

import "github.com/cockroachdb/errors"

// Error classes. Match with errors.Is.
var (
	ErrFetch         = errors.New("historykit: fetch failed")
	ErrMerge         = errors.New("historykit: merge failed")
	ErrClean         = errors.New("historykit: clean failed")
	ErrConfiguration = errors.New("historykit: invalid configuration")
)

func configErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfiguration)
}

func markf(class error, err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), class)
}

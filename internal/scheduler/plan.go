package scheduler

// Plan divides total into n slice quantities that sum exactly to total, with
// no two slices differing by more than one share. Slice i gets
// ((i+1)*total/n)-(i*total/n), which distributes the remainder evenly across
// the run instead of front-loading it.
func Plan(total int64, n int) []int64 {
	if n <= 0 || total <= 0 {
		return nil
	}
	if int64(n) > total {
		n = int(total)
	}

	slices := make([]int64, n)
	for i := 0; i < n; i++ {
		slices[i] = (int64(i+1)*total)/int64(n) - (int64(i)*total)/int64(n)
	}
	return slices
}

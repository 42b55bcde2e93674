package app

import (
	"context"
	"sync"

	"github.com/lvcoi/hlsget/internal/downloader"
)

type Result struct {
	URL   string `json:"url"`
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Run downloads every URL with up to jobs sessions in flight and returns the
// per-URL results plus the process exit code.
func Run(ctx context.Context, urls []string, opts downloader.Options, jobs int) ([]Result, int) {
	if jobs < 1 {
		jobs = 1
	}
	if jobs > 1 && opts.Renderer == nil {
		// Interleaved per-session progress lines are unreadable.
		opts.Quiet = true
	}

	tasks := make(chan string)
	results := make(chan Result, len(urls))

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case url, ok := <-tasks:
					if !ok {
						return
					}
					err := downloader.Process(ctx, url, opts)
					result := Result{URL: url, Err: err}
					if err != nil {
						result.Error = err.Error()
					}
					select {
					case results <- result:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	submitted := 0
	for _, url := range urls {
		select {
		case <-ctx.Done():
		case tasks <- url:
			submitted++
			continue
		}
		break
	}
	close(tasks)

	go func() {
		wg.Wait()
		close(results)
	}()

	output := make([]Result, 0, submitted)
	exitCode := 0
	for res := range results {
		output = append(output, res)
		if res.Err != nil {
			if code := downloader.ExitCode(res.Err); code > exitCode {
				exitCode = code
			}
		}
	}
	if ctx.Err() != nil && exitCode == 0 {
		exitCode = 130
	}
	return output, exitCode
}

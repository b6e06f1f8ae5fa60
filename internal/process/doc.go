// Package process provides generic subprocess lifecycle management.
//
// It supervises the external decoder binaries (direwolf, dumphfdl) that
// Gray Wave depends on.
//
// Features:
//   - Start/stop/restart with graceful shutdown of the whole process group
//   - Automatic restart on failure with exponential backoff
//   - A sample stream on stdin that survives restarts
//   - Line-oriented capture of stdout/stderr
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "dumphfdl",
//	    Binary:           "dumphfdl",
//	    Args:             []string{"--iq-file", "-", "--sample-format", "CF32"},
//	    Stdin:            iqSamples,
//	    Stdout:           parserSink,
//	    RestartOnFailure: true,
//	    RestartDelay:     5 * time.Second,
//	})
//
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
package process

package cli

import (
	"fmt"
	"io"
	"net"

	"github.com/fatih/color"
)

// bannerURL returns the URL announced at startup. It always names
// 127.0.0.1, whatever host the listener is bound to.
func bannerURL(addr net.Addr) string {
	port := "0"
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = fmt.Sprint(tcp.Port)
	} else if _, p, err := net.SplitHostPort(addr.String()); err == nil {
		port = p
	}
	return "http://127.0.0.1:" + port
}

// printBanner tells the user where the files are served.
func printBanner(w io.Writer, root string, addr net.Addr) {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(w, "Serving %s at %s\n", root, green(bannerURL(addr)))
}

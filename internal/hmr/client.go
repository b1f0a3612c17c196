package hmr

import (
	"net/http"
	"strings"
)

// ClientScript is served to the browser and injected into every page shell.
// The socket path is substituted by ClientHandler.
const ClientScript = `// hotssr hmr client
const socketPath = "__HMR_PATH__";
const protocol = location.protocol === "https:" ? "wss:" : "ws:";
let wasConnected = false;

function updateStylesheet(path) {
  let found = false;
  for (const link of document.querySelectorAll('link[rel="stylesheet"]')) {
    const url = new URL(link.href, location.href);
    if (url.pathname === path) {
      url.searchParams.set("t", Date.now().toString());
      link.href = url.toString();
      found = true;
    }
  }
  return found;
}

function waitForServer() {
  const retry = () =>
    fetch(location.href, { method: "HEAD", cache: "no-store" })
      .then(() => location.reload())
      .catch(() => setTimeout(retry, 1000));
  setTimeout(retry, 500);
}

function connect() {
  const socket = new WebSocket(protocol + "//" + location.host + socketPath);

  socket.addEventListener("message", (event) => {
    const message = JSON.parse(event.data);
    switch (message.type) {
      case "connected":
        wasConnected = true;
        console.debug("[hmr] connected");
        break;
      case "css-update":
        if (!updateStylesheet(message.path)) {
          location.reload();
        }
        break;
      case "full-reload":
        location.reload();
        break;
    }
  });

  socket.addEventListener("close", () => {
    if (wasConnected) {
      console.debug("[hmr] server connection lost, polling for restart");
      waitForServer();
    }
  });
}

connect();
`

// ClientHandler serves ClientScript wired to the given websocket path.
func ClientHandler(socketPath string) http.Handler {
	body := []byte(strings.Replace(ClientScript, "__HMR_PATH__", socketPath, 1))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(body)
	})
}

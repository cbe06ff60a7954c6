package api

import (
	"bytes"
	"html/template"
	"io"
	"net/http"

	"github.com/IpsoVeritas/fanpanel"
	"github.com/IpsoVeritas/httphandler"
	"github.com/IpsoVeritas/logger"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Fan control</title>
    <style>
        :root {
            --bg-color: #121212;
            --text-color: #ffffff;
            --accent-color: #00d4ff;
            --slider-bg: #333;
        }
        body {
            margin: 0;
            background-color: var(--bg-color);
            color: var(--text-color);
            font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif;
            display: flex;
            flex-direction: column;
            align-items: center;
            min-height: 100vh;
            padding-top: 50px;
        }
        h1 { color: var(--accent-color); margin-bottom: 10px; }
        .ip { font-size: 16px; color: #aaa; margin-bottom: 30px; }
        .slider-container { width: 80%; max-width: 500px; margin: 0 auto; }
        input[type=range] {
            -webkit-appearance: none;
            width: 100%;
            height: 10px;
            border-radius: 5px;
            background: var(--slider-bg);
            outline: none;
            margin: 20px 0;
        }
        input[type=range]::-webkit-slider-thumb {
            -webkit-appearance: none;
            width: 24px;
            height: 24px;
            border-radius: 50%;
            background: var(--accent-color);
            cursor: pointer;
            box-shadow: 0 0 8px rgba(0, 212, 255, 0.7);
        }
        #value { font-size: 28px; color: var(--accent-color); margin-top: 10px; }
        #error { color: #ff6b6b; min-height: 20px; }
    </style>
</head>
<body>
    <h1>Fan control</h1>
    <div class="ip" id="device">
        {{if .Connected}}Device: {{.Address}}{{else}}Device not connected{{end}}
    </div>

    <div class="slider-container">
        <input type="range" min="{{.Min}}" max="{{.Max}}" value="{{.Speed}}" id="speedSlider">
        <div id="value">Speed: {{.Speed}}</div>
        <div id="error"></div>
    </div>

    <script>
        const slider = document.getElementById("speedSlider");
        const valueDisplay = document.getElementById("value");
        const deviceDisplay = document.getElementById("device");
        const errorDisplay = document.getElementById("error");

        slider.oninput = function() {
            const speed = this.value;
            valueDisplay.textContent = "Speed: " + speed;

            fetch('/update?speed=' + speed)
                .then(res => res.ok ? "" : res.text())
                .then(msg => { errorDisplay.textContent = msg; })
                .catch(err => { errorDisplay.textContent = err; });
        };

        function follow() {
            const scheme = location.protocol === "https:" ? "wss://" : "ws://";
            const ws = new WebSocket(scheme + location.host + "/events");
            ws.onmessage = function(msg) {
                const e = JSON.parse(msg.data);
                if (e.type === "device") {
                    deviceDisplay.textContent = "Device: " + e.address;
                } else if (e.type === "speed" && document.activeElement !== slider) {
                    slider.value = e.speed;
                    valueDisplay.textContent = "Speed: " + e.speed;
                }
            };
            ws.onclose = function() { setTimeout(follow, 2000); };
        }
        follow();
    </script>
</body>
</html>
`))

type indexData struct {
	fanpanel.Status
	Min int
	Max int
}

type IndexController struct {
	device fanpanel.DeviceRegistry
}

func NewIndexController(device fanpanel.DeviceRegistry) *IndexController {
	return &IndexController{device: device}
}

// Render writes the control page for the current device state.
func (c *IndexController) Render(w io.Writer) error {
	return indexTemplate.Execute(w, indexData{
		Status: c.device.Status(),
		Min:    fanpanel.MinSpeed,
		Max:    fanpanel.MaxSpeed,
	})
}

func (c *IndexController) Index(req httphandler.Request) httphandler.Response {
	buf := &bytes.Buffer{}
	if err := c.Render(buf); err != nil {
		logger.Error(err)
		return httphandler.NewStandardResponse(http.StatusInternalServerError, "text/plain", http.StatusText(http.StatusInternalServerError))
	}

	return httphandler.NewStandardResponse(http.StatusOK, "text/html; charset=utf-8", buf.String())
}

package status

// QRReadySelector matches the element qrViewPage renders once it knows the
// state: the QR canvas/image while pairing, or the connected badge.
const QRReadySelector = "#qr canvas, #qr img, #qr .connected"

const qrViewPage = `<!doctype html>
<html>
<head>
  <meta charset="utf-8">
  <title>warelay</title>
  <style>
    body { font-family: system-ui, sans-serif; display: flex; flex-direction: column; align-items: center; margin-top: 48px; }
    #qr { width: 256px; height: 256px; display: flex; align-items: center; justify-content: center; }
    .connected { padding: 6px 14px; border-radius: 999px; background: #25d366; color: #fff; }
    #meta { color: #666; font-size: 13px; margin-top: 12px; }
  </style>
</head>
<body>
  <h2>WhatsApp session</h2>
  <div id="qr"></div>
  <div id="meta"></div>
  <script src="https://cdnjs.cloudflare.com/ajax/libs/qrcodejs/1.0.0/qrcode.min.js"></script>
  <script>
    let qr = null;
    async function refresh() {
      try {
        const res = await fetch('/qr');
        if (!res.ok) { return; }
        const data = await res.json();
        const el = document.getElementById('qr');
        const meta = document.getElementById('meta');
        const ts = data.ts ? new Date(data.ts * 1000).toLocaleTimeString() : '';
        if (data.qr) {
          if (!qr) { el.innerHTML = ''; qr = new QRCode(el, { width: 240, height: 240 }); }
          qr.makeCode(data.qr);
          meta.textContent = 'QR updated ' + ts;
        } else if (data.ts) {
          el.innerHTML = '<span class="connected">Connected</span>';
          meta.textContent = ts;
          qr = null;
        } else {
          meta.textContent = 'Waiting for the session...';
        }
      } catch (e) { console.error(e); }
    }
    refresh();
    setInterval(refresh, 3000);
  </script>
</body>
</html>
`
